package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"bloodlink-backend/config"
	"bloodlink-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Short-lived: drone status and stock change every few seconds.
	cacheStore := cache.New(cfg.CacheTTL, 10*time.Minute)
	caching := mw.Cache(cacheStore, cfg.CacheTTL)

	api := r.Group("/api")
	api.Use(mw.Actor(), rateLimiter, mw.FlushOnWrite(cacheStore))
	{
		blood := api.Group("/blood")
		blood.GET("/stock", caching, handler.GetStock)
		blood.POST("/order", mw.RequireActor(), handler.PlaceOrder)
		blood.POST("/cancel-order/:deliveryId", mw.RequireActor(), handler.CancelOrder)
		blood.POST("/status-update/:deliveryId", mw.RequireActor(), handler.UpdateStatus)

		deliveries := api.Group("/deliveries")
		deliveries.POST("/reconcile", handler.Reconcile)
		deliveries.POST("/:deliveryId/participate", mw.RequireActor(), handler.Participate)
		deliveries.POST("/:deliveryId/dispatch", mw.RequireActor(), handler.Dispatch)

		drones := api.Group("/drones")
		drones.GET("/status", caching, handler.GetDronesStatus)
		drones.POST("/:id/sync", handler.ForceSync)
		drones.GET("/:id/flight_info", handler.GetFlightInfo)
		drones.POST("/:id/mission/create", handler.CreateMission)
		drones.POST("/:id/mission/start", handler.StartMission)
		drones.POST("/:id/mission/modify", handler.ModifyMission)
		drones.POST("/:id/mission/send", handler.SendMissionFile)
		drones.POST("/:id/rth", handler.ReturnToHome)
		drones.POST("/:id/command", handler.ChangeFlightMode)

		subscriptions := api.Group("/subscriptions", mw.RequireActor())
		subscriptions.GET("", handler.GetSubscription)
		subscriptions.PUT("", handler.PutSubscription)
		subscriptions.DELETE("", handler.DeleteSubscription)

		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
