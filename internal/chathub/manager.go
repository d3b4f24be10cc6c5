package chathub

import (
	"carechat/backend/internal/ephemeral"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"
	"carechat/backend/internal/storage"

	"go.uber.org/zap"
)

// AccessChecker gates every privileged operation. Re-evaluated per request;
// never cached, since roles and assignments change between requests.
type AccessChecker interface {
	CanAccess(questionID, userID string) (bool, error)
}

// RateLimiter rejects events over budget with apperr.ErrRateLimited.
type RateLimiter interface {
	Allow(userID, event string) error
}

// Notifier receives out-of-band notifications. Optional; may be nil.
type Notifier interface {
	ConsultantOnline(userID string)
}

type attach struct {
	client     Client
	questionID string
}

// ManagerService is the hub: it owns the set of local connections, the
// local room index, and the dispatch of inbound requests. Cross-process
// delivery always goes through the shared store's pub/sub, so a message
// published here reaches subscribers on every server process, including
// this one.
type ManagerService struct {
	Clients map[string]Client

	IncomingCh   chan Request
	RegisterCh   chan Client
	UnregisterCh chan Client
	PubSubCh     chan models.ServerEvent

	Storage  storage.Storage
	State    *ephemeral.State
	Access   AccessChecker
	Limiter  RateLimiter
	Notifier Notifier

	// localRooms maps questionID -> userID -> local connection. Mutated
	// only inside Run, via attachCh/detachCh and unregister.
	localRooms map[string]map[string]Client
	attachCh   chan attach
	detachCh   chan attach
	queryCh    chan presenceQuery

	done chan struct{}
}

type presenceQuery struct {
	userID string
	reply  chan bool
}

// NewManagerService builds a hub. Notifier may be nil.
func NewManagerService(store storage.Storage, state *ephemeral.State, checker AccessChecker, limiter RateLimiter, notifier Notifier) *ManagerService {
	return &ManagerService{
		Clients:      make(map[string]Client),
		IncomingCh:   make(chan Request, 64),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		PubSubCh:     make(chan models.ServerEvent, 64),
		Storage:      store,
		State:        state,
		Access:       checker,
		Limiter:      limiter,
		Notifier:     notifier,
		localRooms:   make(map[string]map[string]Client),
		attachCh:     make(chan attach, 16),
		detachCh:     make(chan attach, 16),
		queryCh:      make(chan presenceQuery),
		done:         make(chan struct{}),
	}
}

// Run is the hub's main loop. Request handling is dispatched to its own
// goroutine; everything that touches the client map stays here.
func (m *ManagerService) Run() {
	m.startPubSubListener()

	for {
		select {
		case client := <-m.RegisterCh:
			m.register(client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case req := <-m.IncomingCh:
			go m.handleRequest(req)

		case a := <-m.attachCh:
			room, ok := m.localRooms[a.questionID]
			if !ok {
				room = make(map[string]Client)
				m.localRooms[a.questionID] = room
			}
			room[a.client.GetUserID()] = a.client

		case a := <-m.detachCh:
			if room, ok := m.localRooms[a.questionID]; ok {
				delete(room, a.client.GetUserID())
				if len(room) == 0 {
					delete(m.localRooms, a.questionID)
				}
			}

		case q := <-m.queryCh:
			_, ok := m.Clients[q.userID]
			q.reply <- ok

		case ev := <-m.PubSubCh:
			m.deliverLocal(ev)

		case <-m.done:
			return
		}
	}
}

// Stop terminates the hub loop.
func (m *ManagerService) Stop() {
	close(m.done)
}

// Connected reports whether a client is registered for userID. The answer
// comes from the hub loop itself, so callers never touch the map directly.
func (m *ManagerService) Connected(userID string) bool {
	q := presenceQuery{userID: userID, reply: make(chan bool, 1)}
	select {
	case m.queryCh <- q:
		return <-q.reply
	case <-m.done:
		return false
	}
}

func (m *ManagerService) register(client Client) {
	userID := client.GetUserID()

	// a reconnect replaces the previous connection; its room state stays
	// put and expires via TTL if the new connection never rejoins
	if old, ok := m.Clients[userID]; ok && old != client {
		m.detachEverywhere(old)
		old.Close()
	}
	m.Clients[userID] = client

	if err := m.State.SetOnline(userID); err != nil {
		logger.L().Warn("presence set failed", zap.String("user", userID), zap.Error(err))
	}

	m.sendToClient(client, models.ServerEvent{Event: models.EvConnected, UserID: userID})

	if client.GetRole() == models.RoleConsultant && m.Notifier != nil {
		m.Notifier.ConsultantOnline(userID)
	}
	logger.L().Info("client connected", zap.String("user", userID), zap.String("role", string(client.GetRole())))
}

// unregister runs the disconnect cleanup: leave every joined room, clear
// typing, notify remaining members, drop presence. Idempotent; the TTLs on
// every key are the backstop if this crashes midway.
func (m *ManagerService) unregister(client Client) {
	userID := client.GetUserID()
	if current, ok := m.Clients[userID]; !ok || current != client {
		// stale unregister from an already-replaced connection
		m.detachEverywhere(client)
		client.Close()
		return
	}

	rooms, err := m.State.UserRooms(userID)
	if err != nil {
		logger.L().Warn("disconnect room lookup failed", zap.String("user", userID), zap.Error(err))
	}
	for _, questionID := range rooms {
		if err := m.State.LeaveRoom(questionID, userID); err != nil {
			logger.L().Warn("disconnect leave failed",
				zap.String("user", userID), zap.String("question", questionID), zap.Error(err))
			continue
		}
		m.publish(models.ServerEvent{
			Event:      models.EvUserLeft,
			QuestionID: questionID,
			UserID:     userID,
		})
	}
	if err := m.State.SetOffline(userID); err != nil {
		logger.L().Warn("presence clear failed", zap.String("user", userID), zap.Error(err))
	}

	m.detachEverywhere(client)
	delete(m.Clients, userID)
	client.Close()
	logger.L().Info("client disconnected", zap.String("user", userID))
}

func (m *ManagerService) detachEverywhere(client Client) {
	userID := client.GetUserID()
	for questionID, room := range m.localRooms {
		if room[userID] == client {
			delete(room, userID)
			if len(room) == 0 {
				delete(m.localRooms, questionID)
			}
		}
	}
}

// deliverLocal fans a pub/sub event out to the local members of its room.
func (m *ManagerService) deliverLocal(ev models.ServerEvent) {
	room, ok := m.localRooms[ev.QuestionID]
	if !ok {
		return
	}
	exclude := ev.ExcludeUserID
	ev.ExcludeUserID = ""
	for userID, client := range room {
		if userID == exclude {
			continue
		}
		m.sendToClient(client, ev)
	}
}

// sendToClient writes without blocking; a client that cannot keep up is
// dropped and cleaned through the normal unregister path. A send racing a
// concurrent Close is swallowed, not fatal.
func (m *ManagerService) sendToClient(client Client, ev models.ServerEvent) {
	defer func() { _ = recover() }()
	select {
	case client.GetSendChannel() <- ev:
	default:
		logger.L().Warn("send buffer full, dropping client", zap.String("user", client.GetUserID()))
		go func() { m.UnregisterCh <- client }()
	}
}
