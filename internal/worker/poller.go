// Package worker runs the per-server synchronization loop. Each enabled ECS
// server gets its own cron job at its configured interval; servers never
// share state, so one hub being down only costs that hub's run.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/courses"
	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/export"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform"
	"github.com/campusconnect/ecsbridge/internal/services"
	"github.com/campusconnect/ecsbridge/pkg/logger"
	"github.com/campusconnect/ecsbridge/pkg/metrics"
)

// Connector abstracts how a poller obtains an authenticated client for one
// server; tests substitute a stub wired to an httptest hub.
type Connector interface {
	Connect(server *models.ECSServer) (SyncClient, error)
}

// SyncClient is the union of client capabilities one sync pass needs. The
// real connection client satisfies it as-is.
type SyncClient interface {
	services.EventSource
	courses.ResourceSource
	export.ResourceSink
	GetMemberships(ctx context.Context) ([]ecs.Membership, error)
}

// ClientConnector builds real connection clients from server settings.
// Timeout, when set, bounds every HTTP call; zero leaves the client default.
type ClientConnector struct {
	Timeout time.Duration
}

func (c ClientConnector) Connect(server *models.ECSServer) (SyncClient, error) {
	settings := ecs.SettingsFromServer(server)
	settings.Timeout = c.Timeout
	return ecs.Connect(settings)
}

// Poller owns the cron schedule and the sync pass implementation.
type Poller struct {
	db           *gorm.DB
	connector    Connector
	settings     *services.SettingsService
	participants *services.ParticipantService
	queue        *services.ReceiveQueueService
	importer     *courses.Importer
	publisher    *export.Publisher

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewPoller wires the full sync pipeline over one database handle and the
// platform ports.
func NewPoller(db *gorm.DB, ports platform.Ports, connector Connector) (*Poller, error) {
	if db == nil {
		return nil, fmt.Errorf("poller: db is nil")
	}
	if connector == nil {
		return nil, fmt.Errorf("poller: connector is nil")
	}

	settings, err := services.NewSettingsService(db)
	if err != nil {
		return nil, err
	}
	participants, err := services.NewParticipantService(db)
	if err != nil {
		return nil, err
	}
	queue, err := services.NewReceiveQueueService(db)
	if err != nil {
		return nil, err
	}
	importer, err := courses.NewImporter(db, ports)
	if err != nil {
		return nil, err
	}
	publisher, err := export.NewPublisher(db, ports.Courses)
	if err != nil {
		return nil, err
	}

	return &Poller{
		db:           db,
		connector:    connector,
		settings:     settings,
		participants: participants,
		queue:        queue,
		importer:     importer,
		publisher:    publisher,
		cron:         cron.New(),
		entries:      make(map[string]cron.EntryID),
	}, nil
}

// Importer exposes the pipeline importer for the API layer.
func (p *Poller) Importer() *courses.Importer {
	return p.importer
}

// Publisher exposes the export publisher for the API layer.
func (p *Poller) Publisher() *export.Publisher {
	return p.publisher
}

// Start schedules all enabled servers and starts the cron loop.
func (p *Poller) Start(ctx context.Context) error {
	if err := p.Reschedule(ctx); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for running jobs to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// Reschedule rebuilds the cron entries from the current server settings.
// Called at startup and after any admin settings change.
func (p *Poller) Reschedule(ctx context.Context) error {
	servers, err := p.settings.ListEnabled(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.entries {
		p.cron.Remove(entry)
		delete(p.entries, id)
	}

	for _, server := range servers {
		serverID := server.ID
		spec := fmt.Sprintf("@every %s", server.PollInterval())

		entry, err := p.cron.AddFunc(spec, func() {
			if err := p.SyncServer(context.Background(), serverID); err != nil {
				logger.WithServer("worker", serverID).Error("sync pass failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("poller: schedule server %s: %w", serverID, err)
		}
		p.entries[serverID] = entry
	}
	return nil
}

// SyncAll runs one pass for every enabled server, sequentially. Failures are
// collected per server; one server's outage never stops the others.
func (p *Poller) SyncAll(ctx context.Context) error {
	servers, err := p.settings.ListEnabled(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, server := range servers {
		if err := p.SyncServer(ctx, server.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("server %s: %w", server.Name, err))
		}
	}
	return errs
}

// SyncServer runs one full pass against a single server: refresh the
// membership mirror, drain the event FIFO, apply queued events, publish
// exports. Steps are strictly sequential; a destroy notification must be
// seen before its resource fetch would be attempted.
func (p *Poller) SyncServer(ctx context.Context, serverID string) error {
	log := logger.WithServer("worker", serverID)
	started := time.Now()

	server, err := p.settings.Get(ctx, serverID)
	if err != nil {
		return err
	}

	client, err := p.connector.Connect(server)
	if err != nil {
		metrics.SyncRuns.WithLabelValues(serverID, "failure").Inc()
		return err
	}

	if err := p.runPass(ctx, server, client); err != nil {
		metrics.SyncRuns.WithLabelValues(serverID, "failure").Inc()
		return err
	}

	if err := p.settings.TouchPolled(ctx, serverID, started); err != nil {
		return err
	}
	metrics.SyncRuns.WithLabelValues(serverID, "success").Inc()
	metrics.LastPollTimestamp.WithLabelValues(serverID).Set(float64(started.Unix()))
	log.Info("sync pass finished", zap.Duration("took", time.Since(started)))
	return nil
}

func (p *Poller) runPass(ctx context.Context, server *models.ECSServer, client SyncClient) error {
	memberships, err := client.GetMemberships(ctx)
	if err != nil {
		return err
	}
	if err := p.participants.RefreshCommunities(ctx, server.ID, memberships); err != nil {
		return err
	}

	if _, err := p.queue.UpdateFromECS(ctx, server.ID, client); err != nil {
		return err
	}
	if err := p.importer.ProcessEvents(ctx, server, client); err != nil {
		return err
	}
	return p.publisher.UpdateECS(ctx, server, client)
}
