package routes

import (
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"coldrelay/config"
	controller "coldrelay/controllers"
	"coldrelay/middleware"
	"coldrelay/utils"
)

// Setup wires every HTTP surface: the public tracking and auth
// endpoints, the JWT-protected API, the stats websocket and /metrics.
func Setup(app *fiber.App, db *gorm.DB, rdb *redis.Client, transport utils.MailTransport, scorer *utils.WeightedScorer) {
	app.Use(middleware.CORS())
	app.Use(middleware.RateLimited(rdb, config.AppConfig.RateLimitControl))

	authController := controller.NewAuthController(db)
	accountController := controller.NewAccountController(db, transport)
	warmupController := controller.NewWarmupController(db, scorer)
	campaignController := controller.NewCampaignController(db)
	leadController := controller.NewLeadController(db)
	trackingController := controller.NewTrackingController(db)
	inboxController := controller.NewInboxController(db)

	// public surfaces
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	track := app.Group("/track")
	track.Get("/open/:pixelID", trackingController.TrackOpen)
	track.Get("/click/:pixelID", trackingController.TrackClick)
	track.Get("/unsubscribe/:pixelID", trackingController.Unsubscribe)

	auth := app.Group("/auth")
	auth.Post("/register", authController.Register)
	auth.Post("/token", authController.Token)

	// authenticated API
	api := app.Group("/api", middleware.JWTProtected(db))
	api.Post("/auth/revoke", authController.RevokeTokens)

	accounts := api.Group("/accounts")
	accounts.Post("/", accountController.CreateAccount)
	accounts.Get("/", accountController.ListAccounts)
	accounts.Get("/:id", accountController.GetAccount)
	accounts.Delete("/:id", accountController.DeleteAccount)
	accounts.Post("/:id/test", accountController.TestAccount)

	accounts.Post("/:id/warmup/start", warmupController.StartWarmup)
	accounts.Post("/:id/warmup/pause", warmupController.PauseWarmup)
	accounts.Post("/:id/warmup/resume", warmupController.ResumeWarmup)
	accounts.Post("/:id/warmup/stop", warmupController.StopWarmup)
	accounts.Get("/:id/warmup", warmupController.WarmupStatus)

	campaigns := api.Group("/campaigns")
	campaigns.Post("/", campaignController.CreateCampaign)
	campaigns.Get("/", campaignController.ListCampaigns)
	campaigns.Get("/:id", campaignController.GetCampaign)
	campaigns.Post("/:id/leads", campaignController.AddLeads)
	campaigns.Post("/:id/start", campaignController.StartCampaign)
	campaigns.Post("/:id/pause", campaignController.PauseCampaign)
	campaigns.Post("/:id/stop", campaignController.StopCampaign)
	campaigns.Get("/:id/stats", campaignController.CampaignStats)

	leads := api.Group("/leads")
	leads.Post("/", leadController.CreateLead)
	leads.Post("/import", leadController.ImportLeads)
	leads.Get("/", leadController.ListLeads)
	leads.Get("/:id", leadController.GetLead)

	inbox := api.Group("/inbox")
	inbox.Get("/messages", inboxController.ListMessages)
	inbox.Post("/messages/:id/read", inboxController.MarkRead)
	inbox.Get("/sync", inboxController.SyncState)

	// live campaign stats over websocket
	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/campaigns", websocket.New(controller.HandleCampaignStatsWS(db)))
}
