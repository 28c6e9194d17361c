package handler

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ragcore-service/internal/config"
	"ragcore-service/internal/pkg/logger"
	"ragcore-service/pkg/ragcore/generator"
	"ragcore-service/pkg/ragcore/orchestrator"
	"ragcore-service/pkg/ragcore/tenant"
)

const (
	chatWriteWait  = 10 * time.Second
	chatReadLimit  = 8192
)

// wireEvent is the JSON frame shape sent over the chat socket for one
// generator.Event; it mirrors spec.md §5's SSE/WS event contract.
type wireEvent struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ChunkID    string         `json:"chunk_id,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
}

func toWireEvent(ev generator.Event) wireEvent {
	return wireEvent{
		Type:       string(ev.Kind),
		Text:       ev.Text,
		ChunkID:    ev.ChunkID,
		DocumentID: ev.DocumentID,
		Metadata:   ev.Metadata,
		MessageID:  ev.MessageID,
	}
}

// chatRequest is the single inbound frame a client sends per turn.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// RagChatHandler upgrades a connection to a websocket and drives one
// Orchestrator turn per inbound frame, streaming its events back as they
// are produced. Grounded on the teacher's internal/websocket Client
// read/write pump shape, adapted from a broadcast Hub to a single
// request/response-per-turn stream.
type RagChatHandler struct {
	orchestrator   *orchestrator.Orchestrator
	logger         logger.ILogger
	personaDefault config.TenantPersonaDefaults
}

func NewRagChatHandler(o *orchestrator.Orchestrator, log logger.ILogger, persona config.TenantPersonaDefaults) *RagChatHandler {
	return &RagChatHandler{orchestrator: o, logger: log, personaDefault: persona}
}

// personaForTenant resolves the TenantPersona used for one turn. Until a
// per-tenant persona store exists, every tenant gets the configured
// defaults; the tenant ID is accepted here so that store can be slotted in
// without changing this method's callers.
func (h *RagChatHandler) personaForTenant(_ tenant.ID) generator.TenantPersona {
	return generator.TenantPersona{
		Industry:     h.personaDefault.Industry,
		BrandTone:    h.personaDefault.BrandTone,
		Languages:    h.personaDefault.Languages,
		Capabilities: h.personaDefault.Capabilities,
		Constraints:  h.personaDefault.Constraints,
	}
}

func (h *RagChatHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/rag/chat", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		tenantID, err := tenantFromRequest(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		c.Locals("tenant_id", tenantID)
		return websocket.New(h.serve)(c)
	})
}

func tenantFromRequest(c *fiber.Ctx) (tenant.ID, error) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		}
	}
	if tokenStr == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing token")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.ErrUnauthorized
		}
		return []byte(os.Getenv("JWT_SECRET")), nil
	})
	if err != nil || !token.Valid {
		return "", fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fiber.NewError(fiber.StatusUnauthorized, "invalid claims")
	}
	tenantID, ok := claims["tenant_id"].(string)
	if !ok || tenantID == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "token missing tenant_id")
	}
	return tenant.ID(tenantID), nil
}

func (h *RagChatHandler) serve(conn *websocket.Conn) {
	tenantID, _ := conn.Locals("tenant_id").(string)
	t := tenant.ID(tenantID)
	connID := uuid.NewString()

	conn.SetReadLimit(chatReadLimit)
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("RagChatHandler", "connection closed", map[string]interface{}{"conn_id": connID})
			return
		}

		var req chatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			h.writeError(conn, "invalid request frame")
			continue
		}
		if req.SessionID == "" || req.Message == "" {
			h.writeError(conn, "session_id and message are required")
			continue
		}

		turn, err := h.orchestrator.Handle(context.Background(), t, req.SessionID, req.Message, h.personaForTenant(t))
		if err != nil {
			h.writeError(conn, err.Error())
			continue
		}

		for ev := range turn.Events {
			conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
			if err := conn.WriteJSON(toWireEvent(ev)); err != nil {
				h.logger.Warn("RagChatHandler", "write failed, dropping rest of turn", map[string]interface{}{"conn_id": connID, "error": err.Error()})
				break
			}
		}
	}
}

func (h *RagChatHandler) writeError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
	conn.WriteJSON(wireEvent{Type: "error", Text: msg})
}
