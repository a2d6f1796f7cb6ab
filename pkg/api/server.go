package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/credentials"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/events"
	"github.com/skeinhq/skein/pkg/store"
	"github.com/skeinhq/skein/pkg/syncer"
	"github.com/skeinhq/skein/pkg/usage"
)

const maxBodyBytes = 1 << 20

// Server hosts the resource endpoints. Construct with NewServer and mount
// Routes behind the auth middleware.
type Server struct {
	control     store.ControlStore
	jobs        store.SyncJobStore
	syncs       *syncer.Service
	credentials credentials.Store
	usage       *usage.Factory
	bus         *events.Bus
	debug       bool
	logger      *slog.Logger
}

// ServerDeps wires the server into the core.
type ServerDeps struct {
	Control     store.ControlStore
	Jobs        store.SyncJobStore
	Syncs       *syncer.Service
	Credentials credentials.Store
	Usage       *usage.Factory
	Bus         *events.Bus
	Debug       bool
	Logger      *slog.Logger
}

// NewServer creates the API server.
func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		control:     deps.Control,
		jobs:        deps.Jobs,
		syncs:       deps.Syncs,
		credentials: deps.Credentials,
		usage:       deps.Usage,
		bus:         deps.Bus,
		debug:       deps.Debug,
		logger:      deps.Logger,
	}
}

// Routes returns the endpoint mux. Deleting a source connection is
// administrative; everything else needs any authenticated identity.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/{id}/refresh_all", s.handleRefreshAll)
	mux.HandleFunc("POST /source-connections", s.handleCreateSourceConnection)
	mux.Handle("DELETE /source-connections/{id}",
		RequireAdmin(s.debug, http.HandlerFunc(s.handleDeleteSourceConnection)))
	mux.HandleFunc("GET /source-connections/{id}/jobs", s.handleListJobs)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		apierror.Write(w, apierror.New(apierror.KindBadRequest, "Invalid resource ID format"), s.debug)
		return uuid.Nil, false
	}
	return id, true
}

// handleRefreshAll starts a sync job for every source connection in the
// collection and returns the started job ids. A collection with no
// connections yields 200 and an empty list.
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		apierror.Write(w, apierror.New(apierror.KindForbidden, "Missing credentials"), s.debug)
		return
	}
	collectionID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	orgID := ac.Organization.ID
	if _, err := s.control.GetCollection(ctx, orgID, collectionID); err != nil {
		apierror.Write(w, err, s.debug)
		return
	}

	conns, err := s.control.ListSourceConnections(ctx, orgID, collectionID)
	if err != nil {
		apierror.Write(w, err, s.debug)
		return
	}

	jobIDs := make([]uuid.UUID, 0, len(conns))
	for _, conn := range conns {
		job, err := s.syncs.StartSync(ctx, orgID, conn.ID, nil)
		if err != nil {
			// A connection whose sync is already running is skipped, not a
			// failure of the whole refresh.
			ac.Logger.Warn("refresh skipped source connection",
				"source_connection_id", conn.ID, "error", err)
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}
	s.writeJSON(w, http.StatusOK, jobIDs)
}

type createSourceConnectionRequest struct {
	CollectionID            uuid.UUID       `json:"collection_id"`
	SourceKind              string          `json:"source_kind"`
	Name                    string          `json:"name"`
	Credentials             json.RawMessage `json:"credentials"`
	DestinationConnectionID uuid.UUID       `json:"destination_connection_id"`
	CollectionDedup         bool            `json:"collection_dedup"`
}

// handleCreateSourceConnection creates the connection, its sync, and its
// sealed credential in one request.
func (s *Server) handleCreateSourceConnection(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		apierror.Write(w, apierror.New(apierror.KindForbidden, "Missing credentials"), s.debug)
		return
	}
	ctx := r.Context()
	orgID := ac.Organization.ID

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req createSourceConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, apierror.New(apierror.KindBadRequest, "Invalid request body"), s.debug)
		return
	}
	if req.CollectionID == uuid.Nil || req.SourceKind == "" || req.Name == "" {
		apierror.Write(w, apierror.New(apierror.KindBadRequest,
			"Missing required fields: collection_id, source_kind, name"), s.debug)
		return
	}

	coll, err := s.control.GetCollection(ctx, orgID, req.CollectionID)
	if err != nil {
		apierror.Write(w, err, s.debug)
		return
	}

	if s.usage != nil {
		guardrail, err := s.usage.For(ctx, orgID)
		if err != nil {
			apierror.Write(w, err, s.debug)
			return
		}
		allowed, err := guardrail.IsAllowed(ctx, domain.UsageSourceConnections, 1)
		if err != nil {
			apierror.Write(w, err, s.debug)
			return
		}
		if !allowed {
			apierror.Write(w, apierror.New(apierror.KindPaymentRequired,
				"Source connection limit reached for plan"), s.debug)
			return
		}
	}

	cred := &credentials.Credential{
		OrganizationID: orgID,
		SourceKind:     req.SourceKind,
		Payload:        []byte(req.Credentials),
	}
	if err := s.credentials.Save(ctx, cred); err != nil {
		apierror.Write(w, apierror.Wrap(apierror.KindUpstream, "failed to store credentials", err), s.debug)
		return
	}

	sy := &domain.Sync{
		OrganizationID:  orgID,
		CollectionID:    coll.ID,
		CollectionDedup: req.CollectionDedup,
		MeterEntities:   true,
	}
	if req.DestinationConnectionID != uuid.Nil {
		sy.Destinations = []domain.SyncConnection{{
			ID:           uuid.New(),
			ConnectionID: req.DestinationConnectionID,
			Role:         domain.RoleActive,
		}}
	}
	if err := s.control.CreateSync(ctx, sy); err != nil {
		apierror.Write(w, err, s.debug)
		return
	}

	conn := &domain.SourceConnection{
		OrganizationID: orgID,
		CollectionID:   coll.ID,
		SourceKind:     req.SourceKind,
		Name:           req.Name,
		CredentialID:   cred.ID,
		SyncID:         sy.ID,
	}
	if err := s.control.CreateSourceConnection(ctx, conn); err != nil {
		apierror.Write(w, err, s.debug)
		return
	}

	if s.usage != nil {
		if err := s.usage.Increment(ctx, orgID, domain.UsageSourceConnections, 1); err != nil {
			ac.Logger.Warn("failed to record source connection usage", "error", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.ResourceLifecycle{
			Base:       events.NewBase(events.TypeSourceConnectionCreated, orgID),
			ResourceID: conn.ID,
			Name:       conn.Name,
		})
	}
	s.writeJSON(w, http.StatusCreated, conn)
}

// handleDeleteSourceConnection removes the connection; absent ids are 404.
func (s *Server) handleDeleteSourceConnection(w http.ResponseWriter, r *http.Request) {
	ac, _ := FromContext(r.Context())
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	orgID := ac.Organization.ID

	conn, err := s.control.GetSourceConnection(ctx, orgID, id)
	if err != nil {
		apierror.Write(w, err, s.debug)
		return
	}
	if err := s.control.DeleteSourceConnection(ctx, orgID, id); err != nil {
		apierror.Write(w, err, s.debug)
		return
	}
	if err := s.credentials.Delete(ctx, orgID, conn.CredentialID); err != nil {
		ac.Logger.Warn("failed to delete credential", "credential_id", conn.CredentialID, "error", err)
	}

	if s.usage != nil {
		if guardrail, err := s.usage.For(ctx, orgID); err == nil {
			if err := guardrail.Decrement(ctx, domain.UsageSourceConnections, 1); err != nil {
				ac.Logger.Warn("failed to record source connection removal", "error", err)
			}
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.ResourceLifecycle{
			Base:       events.NewBase(events.TypeSourceConnectionDeleted, orgID),
			ResourceID: conn.ID,
			Name:       conn.Name,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListJobs returns the connection's sync jobs newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		apierror.Write(w, apierror.New(apierror.KindForbidden, "Missing credentials"), s.debug)
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	orgID := ac.Organization.ID

	conn, err := s.control.GetSourceConnection(ctx, orgID, id)
	if err != nil {
		apierror.Write(w, err, s.debug)
		return
	}
	jobs, err := s.jobs.ListBySync(ctx, orgID, conn.SyncID)
	if err != nil {
		apierror.Write(w, err, s.debug)
		return
	}
	if jobs == nil {
		jobs = []domain.SyncJob{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}
