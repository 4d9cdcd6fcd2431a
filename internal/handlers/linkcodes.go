package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mailbridge/mailbridge/internal/linkcode"
	"github.com/mailbridge/mailbridge/internal/platform"
)

// LinkCodesHandler issues connect codes for the settings page. The endpoint
// sits behind the JWT middleware; only the product backend calls it.
type LinkCodesHandler struct {
	logger *slog.Logger
}

func NewLinkCodesHandler(log *slog.Logger) *LinkCodesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LinkCodesHandler{logger: log.With(slog.String("handler", "linkcodes"))}
}

func (h *LinkCodesHandler) Register(e *echo.Echo) {
	e.POST("/api/link-codes", h.Generate)
}

type generateLinkCodeRequest struct {
	EmailAccountID string `json:"emailAccountId"`
	Provider       string `json:"provider"`
}

type generateLinkCodeResponse struct {
	Code      string `json:"code"`
	Command   string `json:"command"`
	ExpiresIn int    `json:"expiresInSeconds"`
}

// Generate mints a connect code bound to an email account and provider.
func (h *LinkCodesHandler) Generate(c echo.Context) error {
	var req generateLinkCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}
	provider := platform.ParseType(req.Provider)
	if provider == "" || provider == platform.TypeSlack {
		return echo.NewHTTPError(http.StatusBadRequest, "provider must be teams or telegram")
	}

	code, err := linkcode.Generate(req.EmailAccountID, provider)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	h.logger.Info("connect code issued",
		slog.String("provider", provider.String()),
		slog.String("email_account_id", req.EmailAccountID),
	)
	return c.JSON(http.StatusOK, generateLinkCodeResponse{
		Code:      code,
		Command:   "/connect " + code,
		ExpiresIn: int(linkcode.NonceTTL / time.Second),
	})
}
