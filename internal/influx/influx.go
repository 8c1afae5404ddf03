package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/hudlink/hudlink/internal/config"
	"github.com/hudlink/hudlink/internal/scheduler"
	"github.com/hudlink/hudlink/pkg/core"
)

// Measurement names written by the sink.
const (
	MeasurementTick  = "stream_tick"
	MeasurementState = "link_state"
)

// retention for a bucket the sink creates itself
const retentionSeconds = 60 * 60 * 24 * 30

// Sink records streaming statistics in InfluxDB. When the server cannot be
// reached at Connect time, points are written as gzipped line protocol to a
// backup file instead. It is both a scheduler.TickObserver and a
// connection.Observer.
type Sink struct {
	cfg    config.InfluxConfig
	logger zerolog.Logger

	mu           sync.Mutex
	client       influxdb2.Client
	writer       influxdb2_api.WriteAPI
	backupWriter *gzip.Writer
	backupFile   io.Closer
	backupPath   string
	valid        bool
	closed       bool
}

// NewSink creates a sink. Connect must be called before points are written.
func NewSink(cfg config.InfluxConfig, log zerolog.Logger) *Sink {
	if cfg.Bucket == "" {
		cfg.Bucket = "hudlink_stream"
	}
	return &Sink{cfg: cfg, logger: log}
}

// Connect establishes the InfluxDB client, creating org and bucket when
// missing. backupPath is used when the server does not answer a ping.
func (s *Sink) Connect(ctx context.Context, backupPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	s.client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", s.cfg.Protocol, s.cfg.Host, s.cfg.Port),
		s.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.valid = false
		s.logger.Info().Str("backupPath", backupPath).
			Msg("Failed to reach InfluxDB, writing to backup file")

		file, err := os.OpenFile(backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("error creating backup file: %w", err)
		}
		s.backupFile = file
		s.backupWriter = gzip.NewWriter(file)
		s.backupPath = backupPath
		return nil
	}

	if err := s.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}

	s.writer = s.client.WriteAPI(s.cfg.Org, s.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			s.logger.Error().Err(writeErr).Str("bucket", s.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(s.writer.Errors())

	s.valid = true
	s.logger.Info().Str("bucket", s.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (s *Sink) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := s.client.OrganizationsAPI()

	org, err := orgs.FindOrganizationByName(ctx, s.cfg.Org)
	if err != nil {
		s.logger.Info().Str("org", s.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, s.cfg.Org)
		if err != nil {
			s.logger.Error().Err(err).Str("org", s.cfg.Org).Msg("Error creating organization")
			return fmt.Errorf("create organization %s: %w", s.cfg.Org, err)
		}
	}

	if _, err := s.client.BucketsAPI().FindBucketByName(ctx, s.cfg.Bucket); err != nil {
		s.logger.Info().Str("bucket", s.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = s.client.BucketsAPI().CreateBucketWithName(ctx, org, s.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("bucket", s.cfg.Bucket).Msg("Error creating bucket")
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}

	return nil
}

// Online reports whether points go to the server rather than the backup.
func (s *Sink) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// OnTick records one scheduler tick.
func (s *Sink) OnTick(st scheduler.TickStats) {
	if err := s.WritePoint(TickPoint(st)); err != nil {
		s.logger.Debug().Err(err).Msg("Dropped tick point")
	}
}

// OnConnectionStateChanged records a link state transition.
func (s *Sink) OnConnectionStateChanged(c core.StateChange) {
	if err := s.WritePoint(StatePoint(c)); err != nil {
		s.logger.Debug().Err(err).Msg("Dropped state point")
	}
}

// WritePoint writes a point to InfluxDB or the backup file.
func (s *Sink) WritePoint(point *influxdb2_write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("influx sink closed")
	}

	if s.valid {
		s.writer.WritePoint(point)
		return nil
	}

	if s.backupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := s.backupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.backupWriter != nil {
		if err := s.backupWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backup writer: %w", err))
		}
	}
	if s.backupFile != nil {
		if err := s.backupFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backup file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TickPoint converts tick statistics into a stream_tick point.
func TickPoint(st scheduler.TickStats) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementTick).
		AddTag("mode", st.Mode.String()).
		AddField("skipped", st.Skipped).
		AddField("messages", st.Messages).
		AddField("bytes", st.Bytes).
		AddField("dropped", st.Dropped).
		AddField("pois", st.POIs).
		SetTime(st.At)
	if st.Err != nil {
		p.AddField("error", st.Err.Error())
	}
	return p
}

// StatePoint converts a connection state change into a link_state point.
func StatePoint(c core.StateChange) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementState).
		AddTag("kind", c.Endpoint.Kind.String()).
		AddTag("state", c.State.String()).
		AddField("endpoint", c.Endpoint.String()).
		AddField("previous", c.Previous.String()).
		SetTime(c.At)
	if reason := c.Reason(); reason != "" {
		p.AddField("reason", reason)
	}
	return p
}
