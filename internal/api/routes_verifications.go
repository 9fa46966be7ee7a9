package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vitalmesh/consentd/internal/handlers"
	"github.com/vitalmesh/consentd/internal/services"
)

func registerVerificationRoutes(r *gin.Engine, consent *services.ConsentService) error {
	handler, err := handlers.NewVerificationHandler(consent)
	if err != nil {
		return err
	}

	verifications := r.Group("/api/verifications")
	{
		verifications.POST("", handler.Submit)
		verifications.GET("", handler.List)
		verifications.POST("/:id/respond", handler.Respond)
		verifications.POST("/:id/revoke", handler.Revoke)
	}

	return nil
}
