package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

const changeWriteTimeout = 5 * time.Second

type changeSubscriber interface {
	Subscribe(fn func(models.ChangeSignal)) func()
}

// ChangeStreamHandler pushes collection change signals to connected clients
// so open views know when to re-derive.
type ChangeStreamHandler struct {
	changes changeSubscriber
	origins []string
	logger  *zap.Logger
}

// NewChangeStreamHandler builds a new handler. origins lists the accepted
// cross-origin hosts; same-origin clients are always accepted.
func NewChangeStreamHandler(changes changeSubscriber, origins []string, logger *zap.Logger) *ChangeStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeStreamHandler{changes: changes, origins: origins, logger: logger}
}

// Stream godoc
// @Summary Stream collection change signals
// @Description Each message is {"collection": name}. Clients re-read the store on receipt.
// @Tags Changes
// @Param access_token query string false "Bearer token for clients that cannot set headers"
// @Success 101
// @Router /changes/ws [get]
func (h *ChangeStreamHandler) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("change stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())

	// Pending collections coalesce while the client is slow.
	var mu sync.Mutex
	pending := make(map[models.Collection]struct{})
	wake := make(chan struct{}, 1)
	unsubscribe := h.changes.Subscribe(func(signal models.ChangeSignal) {
		mu.Lock()
		pending[signal.Collection] = struct{}{}
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-wake:
		}
		for _, collection := range drain(&mu, pending) {
			if err := h.send(ctx, conn, collection); err != nil {
				h.logger.Debug("change stream closed", zap.Error(err))
				return
			}
		}
	}
}

func (h *ChangeStreamHandler) send(ctx context.Context, conn *websocket.Conn, collection models.Collection) error {
	ctx, cancel := context.WithTimeout(ctx, changeWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, models.ChangeSignal{Collection: collection})
}

func drain(mu *sync.Mutex, pending map[models.Collection]struct{}) []models.Collection {
	mu.Lock()
	defer mu.Unlock()
	out := make([]models.Collection, 0, len(pending))
	for collection := range pending {
		out = append(out, collection)
		delete(pending, collection)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
