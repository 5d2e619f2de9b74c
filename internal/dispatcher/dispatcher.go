// Package dispatcher implementa el escaneo periódico y el drenado por lotes
// de ScheduledPosts (spec.md §4.6), con el mismo patrón de ticker +
// select{ctx.Done(), ticker.C} que el profesor usa para sus tareas de fondo
// (ver internal/jwt/jwks_cache.go), adaptado a re-entrancy guard, batching y
// mantenimiento diario en vez de refresco de caché de JWKS.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/leader"
	"github.com/dropDatabas3/postdispatch/internal/metrics"
	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
	"github.com/dropDatabas3/postdispatch/internal/postservice"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// Config son los parámetros de tick, batching y mantenimiento; ver
// internal/config's Dispatcher section para los valores por defecto.
type Config struct {
	TickInterval     time.Duration
	BatchSize        int
	SubBatchSize     int
	SubBatchPause    time.Duration
	WatchdogTimeout  time.Duration
	HealthCheckEvery time.Duration
	MaintenanceAt    string // "HH:MM" local
	RequireLeader    bool
	ShutdownDeadline time.Duration
}

// Dispatcher es el escaneador periódico único de posts ejecutables.
type Dispatcher struct {
	cfg     Config
	store   *store.Store
	posts   *postservice.Service
	leaseGate leader.Gate

	isRunning atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	tickWG    sync.WaitGroup
}

func New(cfg Config, st *store.Store, posts *postservice.Service, leaseGate leader.Gate) *Dispatcher {
	if leaseGate == nil {
		leaseGate = leader.Static{}
	}
	return &Dispatcher{
		cfg:       cfg,
		store:     st,
		posts:     posts,
		leaseGate: leaseGate,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run arranca el loop de tick, el watchdog de health check, y la tarea de
// mantenimiento diaria; bloquea hasta que ctx se cancela.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	healthTicker := time.NewTicker(d.cfg.HealthCheckEvery)
	defer healthTicker.Stop()

	maintTicker := time.NewTicker(time.Minute)
	defer maintTicker.Stop()

	log := logger.From(ctx)
	log.Info("dispatcher started", logger.String("tick_interval", d.cfg.TickInterval.String()))

	for {
		select {
		case <-ctx.Done():
			d.shutdown(ctx)
			return
		case <-d.stopCh:
			d.shutdown(ctx)
			return
		case <-ticker.C:
			d.runTick(ctx)
		case <-healthTicker.C:
			d.healthCheck(ctx, ticker)
		case <-maintTicker.C:
			if isMaintenanceHour(d.cfg.MaintenanceAt) {
				d.runMaintenance(ctx)
			}
		}
	}
}

// Stop señala el apagado y espera a que drene el tick en curso, acotado por
// ShutdownDeadline (spec.md §4.6 "Cancellation").
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) shutdown(ctx context.Context) {
	deadline := d.cfg.ShutdownDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.tickWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		logger.From(ctx).Warn("dispatcher shutdown deadline exceeded, in-flight tick may be abandoned")
	}
}

// RunOnce ejecuta un único tick fuera del loop normal: usado por el CLI de
// operador para forzar un barrido inmediato sin esperar al próximo
// TickInterval. Sigue respetando RequireLeader/leaseGate como un tick normal.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	d.runTick(ctx)
}

// runTick implementa spec.md §4.6 pasos 1-5.
func (d *Dispatcher) runTick(ctx context.Context) {
	if d.cfg.RequireLeader && !d.leaseGate.IsLeader() {
		return
	}
	if !d.isRunning.CompareAndSwap(false, true) {
		logger.From(ctx).Info("dispatcher tick skipped: previous tick still running")
		return
	}
	d.tickWG.Add(1)
	defer func() {
		d.isRunning.Store(false)
		d.tickWG.Done()
	}()

	start := time.Now()
	posts, err := d.store.ListDuePosts(ctx, d.cfg.BatchSize)
	if err != nil {
		logger.From(ctx).Error("dispatcher: list due posts failed", logger.Err(err))
		return
	}
	metrics.DispatcherTickPostsFound.Set(float64(len(posts)))
	if len(posts) == 0 {
		return
	}

	subBatchSize := d.cfg.SubBatchSize
	if subBatchSize <= 0 {
		subBatchSize = 10
	}

	for i := 0; i < len(posts); i += subBatchSize {
		end := i + subBatchSize
		if end > len(posts) {
			end = len(posts)
		}
		d.executeSubBatch(ctx, posts[i:end])

		if end < len(posts) && d.cfg.SubBatchPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.SubBatchPause):
			}
		}
	}

	metrics.DispatcherTickDuration.Observe(time.Since(start).Seconds())
}

// executeSubBatch corre cada grupo de thread concurrentemente entre sí (hasta
// SubBatchSize grupos a la vez), pero serializa los posts de un mismo
// thread-root por un único worker, tragando errores por-post (spec.md §4.6
// paso 4, §4.5/§5 "Within a single thread-root, posts are executed strictly
// in (threadIndex, createdAt) order by a single worker at a time").
func (d *Dispatcher) executeSubBatch(ctx context.Context, batch []*store.ScheduledPost) {
	var wg sync.WaitGroup
	for rootID, group := range groupByThread(batch) {
		wg.Add(1)
		go func(rootID string, group []*store.ScheduledPost) {
			defer wg.Done()
			d.executeThreadGroup(ctx, rootID, group)
		}(rootID, group)
	}
	wg.Wait()
}

// groupByThread agrupa los posts due por su thread-root efectivo: la fila
// raíz de un thread tiene ThreadRootID nil, así que se usa su propio ID
// como clave; sus hijos comparten esa clave vía ThreadRootID. Un post sin
// thread queda solo en su propio grupo, indistinguible en tratamiento de un
// thread de un solo post.
func groupByThread(batch []*store.ScheduledPost) map[string][]*store.ScheduledPost {
	groups := make(map[string][]*store.ScheduledPost)
	for _, p := range batch {
		root := p.ID
		if p.ThreadRootID != nil {
			root = *p.ThreadRootID
		}
		groups[root] = append(groups[root], p)
	}
	return groups
}

// executeThreadGroup ejecuta, con un único worker, los posts due de un
// thread-root en orden (threadIndex, createdAt). Para threads de más de un
// post due, relee el orden canónico completo vía store.ListThread y lo
// filtra a los miembros efectivamente due en este tick: al ejecutar de uno
// en uno y esperar a que cada Execute persista su resultado antes de seguir
// con el siguiente, el hijo siempre encuentra el parent ya resuelto en la
// base, sin la carrera de ejecutar ambos en paralelo.
//
// executeOne devuelve si el thread debe seguir procesándose en este tick:
// spec.md §4.5/§5 "retries apply only to individual posts within a thread"
// significa que una reprogramación transitoria (el post vuelve a PENDING)
// solo pausa el resto del thread hasta el próximo tick, mientras que un
// fallo terminal (FAILED o CANCELLED) cancela el resto del thread con
// reason PARENT_FAILED — sea que el miembro que falló sea la raíz o un hijo.
func (d *Dispatcher) executeThreadGroup(ctx context.Context, rootID string, group []*store.ScheduledPost) {
	order := group
	if len(group) > 1 {
		thread, err := d.store.ListThread(ctx, rootID)
		if err != nil {
			logger.From(ctx).Error("dispatcher: list thread failed",
				logger.String("thread_root_id", rootID), logger.Err(err))
		} else {
			order = dueInThreadOrder(thread, group)
		}
	}
	for _, p := range order {
		if !d.executeOne(ctx, p) {
			return
		}
	}
}

// dueInThreadOrder conserva el orden de thread (ya viene ordenado por
// ListThread) restringido a los posts presentes en due.
func dueInThreadOrder(thread, due []*store.ScheduledPost) []*store.ScheduledPost {
	dueIDs := make(map[string]bool, len(due))
	for _, p := range due {
		dueIDs[p.ID] = true
	}
	out := make([]*store.ScheduledPost, 0, len(due))
	for _, p := range thread {
		if dueIDs[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// executeOne ejecuta un único post y reporta si el resto de su thread puede
// seguir en este tick. Execute() devuelve nil tanto para una publicación
// exitosa como para un fallo manejado internamente (retry reprogramado o
// FAILED permanente) — así que, para distinguirlos, executeOne relee el
// status persistido en vez de confiar en el error de retorno.
func (d *Dispatcher) executeOne(ctx context.Context, p *store.ScheduledPost) bool {
	if err := d.posts.Execute(ctx, p.ID); err != nil {
		if err != coreerr.AlreadyClaimed {
			logger.From(ctx).Error("post execution failed", logger.PostID(p.ID), logger.Err(err))
		}
		metrics.DispatcherPostsFailed.Inc()
		return false
	}

	final, err := d.store.GetPost(ctx, p.ID)
	if err != nil {
		logger.From(ctx).Error("dispatcher: reload post after execute failed", logger.PostID(p.ID), logger.Err(err))
		return false
	}

	switch final.Status {
	case store.StatusCompleted:
		metrics.DispatcherPostsExecuted.Inc()
		return true

	case store.StatusPending:
		// Fallo transitorio reprogramado para reintento: pausa el thread
		// hasta el próximo tick sin cancelar nada más.
		metrics.DispatcherPostsFailed.Inc()
		return false

	default: // FAILED o CANCELLED: fallo terminal, cancela el resto del thread.
		metrics.DispatcherPostsFailed.Inc()
		rootID := p.ID
		if p.ThreadRootID != nil {
			rootID = *p.ThreadRootID
		}
		if err := d.store.CancelThreadTail(ctx, rootID, p.ThreadIndex); err != nil {
			logger.From(ctx).Error("dispatcher: cancel thread tail failed",
				logger.String("thread_root_id", rootID), logger.Err(err))
		}
		return false
	}
}

// healthCheck implementa spec.md §4.6 "Health": reclama posts EXECUTING
// atascados por más de WatchdogTimeout. No inspecciona ni reinicia el ticker.
func (d *Dispatcher) healthCheck(ctx context.Context, ticker *time.Ticker) {
	n, err := d.store.ReclaimStuckExecuting(ctx, d.cfg.WatchdogTimeout)
	if err != nil {
		logger.From(ctx).Error("dispatcher: watchdog reclaim failed", logger.Err(err))
		return
	}
	if n > 0 {
		logger.From(ctx).Warn("dispatcher: reclaimed stuck EXECUTING posts", logger.Int("count", int(n)))
	}
}

// runMaintenance implementa las tareas diarias de spec.md §4.6.
func (d *Dispatcher) runMaintenance(ctx context.Context) {
	log := logger.From(ctx)

	if n, err := d.store.PurgeExpiredSessions(ctx); err != nil {
		log.Error("maintenance: purge expired sessions failed", logger.Err(err))
	} else if n > 0 {
		log.Info("maintenance: purged expired sessions", logger.Int("count", int(n)))
	}

	if n, err := d.store.ArchiveCompletedOlderThan(ctx, 30*24*time.Hour); err != nil {
		log.Error("maintenance: archive completed posts failed", logger.Err(err))
	} else if n > 0 {
		log.Info("maintenance: archived completed posts", logger.Int("count", int(n)))
	}

	if n, err := d.store.ArchiveFailedOlderThan(ctx, 7*24*time.Hour); err != nil {
		log.Error("maintenance: archive failed posts failed", logger.Err(err))
	} else if n > 0 {
		log.Info("maintenance: archived failed posts", logger.Int("count", int(n)))
	}

	if n, err := d.store.PurgeFailureRecordsOlderThan(ctx, 90*24*time.Hour); err != nil {
		log.Error("maintenance: purge failure records failed", logger.Err(err))
	} else if n > 0 {
		log.Info("maintenance: purged failure records", logger.Int("count", int(n)))
	}
}

func isMaintenanceHour(hhmm string) bool {
	now := time.Now()
	want := parseHHMM(hhmm)
	return now.Hour() == want.hour && now.Minute() == want.minute
}

type hhmm struct{ hour, minute int }

func parseHHMM(s string) hhmm {
	if len(s) != 5 || s[2] != ':' {
		return hhmm{3, 0}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return hhmm{h, m}
}
