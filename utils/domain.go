package utils

import (
	"fmt"
	"net"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
)

// DomainCheck summarizes the deliverability posture of a sending domain.
type DomainCheck struct {
	Domain   string   `json:"domain"`
	HasMX    bool     `json:"has_mx"`
	HasSPF   bool     `json:"has_spf"`
	HasDMARC bool     `json:"has_dmarc"`
	WhoisOK  bool     `json:"whois_ok"`
	Warnings []string `json:"warnings,omitempty"`
}

// CheckSendingDomain verifies the DNS posture of the domain behind a
// sending address. Used when connecting an account so misconfigured
// domains surface before any campaign burns reputation on them.
func CheckSendingDomain(email string) (DomainCheck, error) {
	if err := checkmail.ValidateFormat(email); err != nil {
		return DomainCheck{}, fmt.Errorf("invalid email %q: %w", email, err)
	}

	domain := email[strings.LastIndex(email, "@")+1:]
	check := DomainCheck{Domain: domain}

	if mx, err := net.LookupMX(domain); err == nil && len(mx) > 0 {
		check.HasMX = true
	} else {
		check.Warnings = append(check.Warnings, "no MX records found")
	}

	if txts, err := net.LookupTXT(domain); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(txt, "v=spf1") {
				check.HasSPF = true
				break
			}
		}
	}
	if !check.HasSPF {
		check.Warnings = append(check.Warnings, "no SPF record found")
	}

	if txts, err := net.LookupTXT("_dmarc." + domain); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(txt, "v=DMARC1") {
				check.HasDMARC = true
				break
			}
		}
	}
	if !check.HasDMARC {
		check.Warnings = append(check.Warnings, "no DMARC record found")
	}

	if raw, err := whois.Whois(domain); err == nil && raw != "" {
		lower := strings.ToLower(raw)
		check.WhoisOK = !strings.Contains(lower, "no match for") &&
			!strings.Contains(lower, "not found")
	}
	if !check.WhoisOK {
		check.Warnings = append(check.Warnings, "whois lookup inconclusive")
	}

	return check, nil
}
