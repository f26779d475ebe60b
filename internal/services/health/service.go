package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"papers-backend/internal/shared/server/respond"
	"papers-backend/internal/shared/storage/object"
)

const checkTimeout = 3 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	DB      Pinger
	Store   object.Store
	Buckets []string
}

// NewService constructs a new health service. db may be nil when records
// are kept in memory.
func NewService(db Pinger, store object.Store, buckets ...string) *Service {
	return &Service{DB: db, Store: store, Buckets: buckets}
}

// Report is the health payload.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks"`
}

// Status runs every dependency check. A failed check flips OK but the
// remaining checks still run.
func (s *Service) Status(ctx context.Context) Report {
	rep := Report{OK: true, Checks: map[string]string{}}
	record := func(name string, err error) {
		if err != nil {
			rep.OK = false
			rep.Checks[name] = err.Error()
			return
		}
		rep.Checks[name] = "ok"
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if s.DB != nil {
		record("database", s.DB.PingContext(ctx))
	} else {
		rep.Checks["database"] = "memory"
	}
	if s.Store != nil {
		for _, name := range s.Buckets {
			record("bucket:"+name, s.probe(ctx, name))
		}
	}
	return rep
}

// probe lists at most one object to confirm the bucket is reachable.
func (s *Service) probe(ctx context.Context, bucket string) error {
	for _, err := range s.Store.List(ctx, bucket, "") {
		return err
	}
	return nil
}

// RegisterRoutes attaches the health route to the router group.
func (s *Service) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", func(c *gin.Context) {
		rep := s.Status(c.Request.Context())
		status := http.StatusOK
		if !rep.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, rep)
	})
}
