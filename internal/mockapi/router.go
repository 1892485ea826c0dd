package mockapi

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// BasePath is where the API is mounted
const BasePath = "/api/v1"

// SetupRouter sets up the Gin router
func SetupRouter(authService *AuthService, handlers *AuthHandlers, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	v1 := router.Group(BasePath)

	auth := v1.Group("/auth")
	{
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
	}

	twoFactor := v1.Group("/auth/two-factor")
	twoFactor.Use(AuthMiddleware(authService))
	{
		twoFactor.POST("/challenge", handlers.Challenge)
		twoFactor.POST("/verify", handlers.Verify)
	}

	api := v1.Group("")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
		api.GET("/wallet", handlers.Wallet)
	}

	return router
}
