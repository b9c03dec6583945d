package api

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

// Broker wakes the open board streams of a sprint whenever one of its
// boards changes, on this or any other instance.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) subscribe(sprintID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[sprintID] == nil {
		b.subs[sprintID] = make(map[chan struct{}]struct{})
	}
	b.subs[sprintID][ch] = struct{}{}
	b.mu.Unlock()
	streamSubscribers.Inc()
	return ch
}

func (b *Broker) unsubscribe(sprintID string, ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs[sprintID], ch)
	if len(b.subs[sprintID]) == 0 {
		delete(b.subs, sprintID)
	}
	b.mu.Unlock()
	streamSubscribers.Dec()
}

// Notify wakes every stream of sprintID. Pending wake-ups are coalesced.
func (b *Broker) Notify(sprintID string) {
	b.mu.Lock()
	for ch := range b.subs[sprintID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// HandleEvent is the events.Subscribe callback.
func (b *Broker) HandleEvent(ev domain.Event) {
	if ev.SprintID != "" {
		b.Notify(ev.SprintID)
	}
}

// streamBoard pushes the sprint board as server-sent events, once on connect
// and again after every change. EventSource cannot set headers, so the token
// may also arrive as a query parameter.
func streamBoard(svc Services, auth Authenticator, broker *Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		caller, err := auth.CallerFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		projectID, sprintID := c.Param("projectId"), c.Param("sprintId")
		ctx := c.Request().Context()

		// resolve before switching to an event stream so errors keep their status
		board, err := svc.Boards.Board(ctx, caller, projectID, sprintID)
		if err != nil {
			return writeError(c, err)
		}

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ch := broker.subscribe(sprintID)
		defer broker.unsubscribe(sprintID, ch)
		for {
			data, err := sonic.Marshal(board)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return err
			}
			flusher.Flush()

			select {
			case <-ctx.Done():
				return nil
			case <-ch:
			}
			board, err = svc.Boards.Board(ctx, caller, projectID, sprintID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.Logger().Error(err)
				return err
			}
		}
	}
}
