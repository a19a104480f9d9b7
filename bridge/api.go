package bridge

import (
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// API is the HTTP surface the webapp pushes outbound traffic through.
type API struct {
	bridge *Bridge
	echo   *echo.Echo
}

// CustomValidator wires go-playground/validator as the echo validator,
// reporting field errors under their JSON names.
type CustomValidator struct {
	validator *validator.Validate
}

// NewCustomValidator creates the request validator
func NewCustomValidator() *CustomValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &CustomValidator{validator: v}
}

// Validate implements echo.Validator
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// NewAPI creates the bridge HTTP surface
func NewAPI(b *Bridge) *API {
	api := &API{
		bridge: b,
		echo:   echo.New(),
	}
	api.echo.HideBanner = true
	api.echo.HidePort = true
	api.echo.Validator = NewCustomValidator()

	api.echo.POST("/send-irc", api.handleSend)
	api.echo.POST("/set-topic", api.handleSetTopic)
	api.echo.GET("/healthz", api.handleHealth)

	return api
}

// Start starts the HTTP surface
func (a *API) Start() error {
	addr := a.bridge.config.GetBridgeAPIListenAddress()
	log.Printf("[BOT] api listening on %s", addr)
	return a.echo.Start(addr)
}

// Stop stops the HTTP surface
func (a *API) Stop() error {
	return a.echo.Close()
}

// SendRequest is an outbound message from the webapp. Message is either
// plaintext, base64 ciphertext with the tag appended plus a base64 IV, or
// the legacy hex triple. KeyID is the webapp's alias for the GCM auth tag
// and takes precedence over Tag.
type SendRequest struct {
	Channel           string `json:"channel" validate:"required"`
	Message           string `json:"message" validate:"required"`
	From              string `json:"from" validate:"required"`
	Encrypted         bool   `json:"encrypted"`
	IV                string `json:"iv"`
	KeyID             string `json:"keyId"`
	Tag               string `json:"tag"`
	OriginalMessageID string `json:"originalMessageId"`
}

// TopicRequest is an outbound topic change.
type TopicRequest struct {
	Channel string `json:"channel" validate:"required"`
	Topic   string `json:"topic"`
}

func (a *API) handleSend(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	channel := req.Channel
	if !strings.HasPrefix(channel, "#") {
		channel = "#" + channel
	}

	authTag := req.KeyID
	if authTag == "" {
		authTag = req.Tag
	}

	plaintext := req.Message
	if req.Encrypted || (req.IV != "" && authTag != "") {
		var err error
		if authTag != "" && isHex(req.Message) {
			plaintext, err = a.bridge.cipher.OpenHex(req.Message, req.IV, authTag)
		} else {
			plaintext, err = a.bridge.cipher.Open(req.Message, req.IV)
		}
		if err != nil {
			log.Printf("[BOT] failed to open outbound message for %s: %v", channel, err)
			return echo.NewHTTPError(http.StatusBadRequest, "Undecryptable content")
		}
	}

	if err := a.bridge.SendToChannel(channel, req.From, plaintext, req.OriginalMessageID); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// isHex reports whether s is non-empty and entirely hex digits, which picks
// the legacy triple encoding over the combined base64 one.
func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func (a *API) handleSetTopic(c echo.Context) error {
	var req TopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	channel := req.Channel
	if !strings.HasPrefix(channel, "#") {
		channel = "#" + channel
	}

	if err := a.bridge.SetTopic(channel, req.Topic); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

func (a *API) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}
