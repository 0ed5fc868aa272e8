package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"gopkg.in/gomail.v2"

	"coldrelay/models"
)

// OutboundMessage is a fully rendered email ready for the transport.
type OutboundMessage struct {
	ToEmail    string
	ToName     string
	Subject    string
	TextBody   string
	HTMLBody   string
	InReplyTo  string
	References []string
	Headers    map[string]string
}

// InboundMessage is one fetched message from an account's mailbox.
type InboundMessage struct {
	UID           uint32
	MessageID     string
	InReplyTo     string
	References    []string
	FromName      string
	FromEmail     string
	To            string
	Subject       string
	TextBody      string
	HTMLBody      string
	AutoSubmitted string
	Mailbox       string
	Date          time.Time
}

// MailTransport abstracts the SMTP/IMAP plumbing so the dispatcher and
// the reconciler can be exercised against a fake in tests.
type MailTransport interface {
	// Send delivers the message from the account and returns the
	// Message-ID assigned to it.
	Send(ctx context.Context, account *models.EmailAccount, msg OutboundMessage) (string, error)

	// FetchSince loads all messages in the mailbox with UID strictly
	// greater than sinceUID.
	FetchSince(ctx context.Context, account *models.EmailAccount, mailbox string, sinceUID uint32) ([]InboundMessage, error)
}

// Well-known mailbox names.
const MailboxInbox = "INBOX"

// SpamMailbox returns the provider's junk folder name.
func SpamMailbox(provider string) string {
	switch provider {
	case "gmail":
		return "[Gmail]/Spam"
	case "outlook":
		return "Junk"
	default:
		return "Junk"
	}
}

// SMTPTransport is the production transport. Each account gets its own
// circuit breaker so one broken mailbox cannot take down the rest.
type SMTPTransport struct {
	mu       sync.Mutex
	breakers map[uint]*gobreaker.CircuitBreaker
}

func NewSMTPTransport() *SMTPTransport {
	return &SMTPTransport{breakers: make(map[uint]*gobreaker.CircuitBreaker)}
}

func (t *SMTPTransport) breaker(accountID uint) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()

	cb, ok := t.breakers[accountID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    fmt.Sprintf("smtp-account-%d", accountID),
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				LogWarn("smtp circuit state change", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		})
		t.breakers[accountID] = cb
	}
	return cb
}

func (t *SMTPTransport) Send(ctx context.Context, account *models.EmailAccount, msg OutboundMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := NewMessageID(account.Email)

	_, err := t.breaker(account.ID).Execute(func() (interface{}, error) {
		return nil, t.deliver(ctx, account, msg, messageID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", err
	}
	return messageID, nil
}

func (t *SMTPTransport) deliver(ctx context.Context, account *models.EmailAccount, msg OutboundMessage, messageID string) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", account.Email, account.Name)
	m.SetAddressHeader("To", msg.ToEmail, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		m.SetHeader("References", strings.Join(msg.References, " "))
	}
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		if msg.HTMLBody != "" {
			m.AddAlternative("text/html", msg.HTMLBody)
		}
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}

	dialer := gomail.NewDialer(account.SMTPHost, account.SMTPPort, account.SMTPUsername, "")
	if OAuthConfig(account.Provider) != nil {
		token, err := AccessToken(ctx, account)
		if err != nil {
			return err
		}
		dialer.Auth = xoauth2Auth{username: account.Email, token: token}
	} else {
		password, err := Decrypt(account.SMTPPassword)
		if err != nil {
			return fmt.Errorf("decrypt smtp password: %w", err)
		}
		dialer.Password = password
	}

	return dialer.DialAndSend(m)
}

// NewMessageID mints an RFC 5322 Message-ID in the sender's domain.
func NewMessageID(fromEmail string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromEmail, "@"); at >= 0 {
		domain = fromEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism for SMTP, which
// neither gomail nor net/smtp ship.
type xoauth2Auth struct {
	username string
	token    string
}

func (a xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token)
	return "XOAUTH2", []byte(resp), nil
}

func (a xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// Server sent an error challenge; an empty response fetches
		// the final SMTP status line.
		return []byte{}, nil
	}
	return nil, nil
}

func (t *SMTPTransport) FetchSince(ctx context.Context, account *models.EmailAccount, mailbox string, sinceUID uint32) ([]InboundMessage, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	if err := t.login(ctx, c, account); err != nil {
		return nil, err
	}

	mbox, err := c.Select(mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(sinceUID+1, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []InboundMessage
	for raw := range messages {
		// Servers include the range anchor when the mailbox has no
		// newer messages. Skip it.
		if raw.Uid <= sinceUID {
			continue
		}
		msg, err := parseInbound(raw, section, mailbox)
		if err != nil {
			LogWarn("failed to parse inbound message", map[string]interface{}{
				"account_id": account.ID,
				"uid":        raw.Uid,
				"error":      err.Error(),
			})
			continue
		}
		out = append(out, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch: %w", err)
	}
	return out, ctx.Err()
}

func (t *SMTPTransport) login(ctx context.Context, c *client.Client, account *models.EmailAccount) error {
	if OAuthConfig(account.Provider) != nil {
		token, err := AccessToken(ctx, account)
		if err != nil {
			return err
		}
		auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: account.Email,
			Token:    token,
		})
		if err := c.Authenticate(auth); err != nil {
			return fmt.Errorf("imap oauth: %w", err)
		}
		return nil
	}

	password, err := Decrypt(account.IMAPPassword)
	if err != nil {
		return fmt.Errorf("decrypt imap password: %w", err)
	}
	if err := c.Login(account.IMAPUsername, password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	return nil
}

func parseInbound(raw *imap.Message, section *imap.BodySectionName, mailbox string) (InboundMessage, error) {
	msg := InboundMessage{
		UID:     raw.Uid,
		Mailbox: mailbox,
		Date:    raw.InternalDate,
	}

	body := raw.GetBody(section)
	if body == nil {
		return msg, errors.New("server returned no body section")
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return msg, err
	}

	header := mr.Header
	msg.MessageID = header.Get("Message-Id")
	msg.InReplyTo = strings.TrimSpace(header.Get("In-Reply-To"))
	msg.AutoSubmitted = header.Get("Auto-Submitted")
	if refs := header.Get("References"); refs != "" {
		msg.References = strings.Fields(refs)
	}
	msg.Subject, _ = header.Subject()
	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	}

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromName = from[0].Name
		msg.FromEmail = strings.ToLower(from[0].Address)
	}
	if to, err := header.AddressList("To"); err == nil && len(to) > 0 {
		msg.To = strings.ToLower(to[0].Address)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := inline.ContentType()
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain":
			msg.TextBody = string(content)
		case "text/html":
			msg.HTMLBody = string(content)
		}
	}

	return msg, nil
}
