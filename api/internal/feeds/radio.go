package feeds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
	"sentinelai-backend/shared/workflow"
)

const RadioFeedName = "radio"

// Dialer opens the upstream socket; *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network string, address string) (net.Conn, error)
}

type RadioConfig struct {
	Host     string
	Port     int
	Callsign string
	Passcode string
	ClientID string
	// Filter is sent verbatim when set; otherwise a range filter is built
	// from FilterCenter and FilterRadiusKm.
	Filter         string
	FilterCenter   *events.GeoPoint
	FilterRadiusKm float64
	MissionID      string

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// StableAfter is how long a connection must last before a later
	// failure restarts the backoff sequence.
	StableAfter  time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RadioClient maintains a long-lived APRS-IS session.
type RadioClient struct {
	cfg     RadioConfig
	sink    EventSink
	dialer  Dialer
	logger  logx.Logger
	tracker *tracker
	life    lifecycle
	backoff *Backoff
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRadioClient(cfg RadioConfig, sink EventSink, dialer Dialer, logger logx.Logger) *RadioClient {
	if cfg.ClientID == "" {
		cfg.ClientID = "sentinelai 1.0"
	}
	if cfg.Passcode == "" {
		cfg.Passcode = "-1"
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = time.Minute
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if dialer == nil {
		dialer = &net.Dialer{KeepAlive: 30 * time.Second}
	}
	logger = logger.With(slog.String("feed", RadioFeedName))
	return &RadioClient{
		cfg:     cfg,
		sink:    sink,
		dialer:  dialer,
		logger:  logger,
		tracker: newTracker(RadioFeedName, logger),
		backoff: NewBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func (c *RadioClient) Name() string { return RadioFeedName }

func (c *RadioClient) State() ConnectionState { return c.tracker.snapshot() }

func (c *RadioClient) Start(ctx context.Context) error {
	return c.life.start(ctx, c.run)
}

func (c *RadioClient) Stop() {
	c.life.stop()
	c.tracker.moveTo(context.Background(), workflow.FeedDisconnected, func(s *ConnectionState) {
		s.NextRetryAt = nil
		s.ConnectedSince = nil
	})
}

// LoginLine is the APRS-IS authentication line, CRLF terminated.
func (c *RadioClient) LoginLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "user %s pass %s vers %s", c.cfg.Callsign, c.cfg.Passcode, c.cfg.ClientID)
	if f := c.filter(); f != "" {
		b.WriteString(" filter ")
		b.WriteString(f)
	}
	b.WriteString("\r\n")
	return b.String()
}

func (c *RadioClient) filter() string {
	if f := strings.TrimSpace(c.cfg.Filter); f != "" {
		return f
	}
	if c.cfg.FilterCenter != nil && c.cfg.FilterRadiusKm > 0 {
		return fmt.Sprintf("r/%s/%s/%s",
			strconv.FormatFloat(c.cfg.FilterCenter.Lat, 'f', 4, 64),
			strconv.FormatFloat(c.cfg.FilterCenter.Lon, 'f', 4, 64),
			strconv.FormatFloat(c.cfg.FilterRadiusKm, 'f', -1, 64),
		)
	}
	return ""
}

func (c *RadioClient) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.tracker.moveTo(ctx, workflow.FeedConnecting, func(s *ConnectionState) { s.NextRetryAt = nil })

		connectedAt, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		now := c.now()
		sustained := !connectedAt.IsZero() && now.Sub(connectedAt) >= c.cfg.StableAfter
		if sustained {
			c.backoff.Reset()
		}
		delay := c.backoff.Next()
		metricsx.IncFeedFailure(RadioFeedName)
		c.tracker.moveTo(ctx, workflow.FeedBackoff, func(s *ConnectionState) {
			if sustained {
				s.ConsecutiveFailures = 0
			}
			s.ConsecutiveFailures++
			s.LastError = err.Error()
			s.NextRetryAt = timePtr(now.Add(delay))
			s.ConnectedSince = nil
		})
		if err := c.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// session dials, logs in and reads until the connection fails. It returns
// when the connection was established, or zero if it never was.
func (c *RadioClient) session(ctx context.Context) (time.Time, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return time.Time{}, &FeedUnavailableError{Feed: RadioFeedName, Err: err}
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if _, err := io.WriteString(conn, c.LoginLine()); err != nil {
		return time.Time{}, &FeedUnavailableError{Feed: RadioFeedName, Err: fmt.Errorf("login: %w", err)}
	}
	_ = conn.SetWriteDeadline(time.Time{})

	connectedAt := c.now()
	c.tracker.moveTo(ctx, workflow.FeedConnected, func(s *ConnectionState) {
		s.LastError = ""
		s.ConnectedSince = timePtr(connectedAt)
		s.LastSuccessAt = timePtr(connectedAt)
	})

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err == nil {
			c.handleLine(ctx, line)
			continue
		}
		// A trailing line without its newline is discarded.
		if errors.Is(err, io.EOF) {
			return connectedAt, &FeedUnavailableError{Feed: RadioFeedName, Err: errors.New("server closed connection")}
		}
		return connectedAt, &FeedUnavailableError{Feed: RadioFeedName, Err: err}
	}
}

func (c *RadioClient) handleLine(ctx context.Context, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	if strings.HasPrefix(line, "#") {
		c.logger.Debug(ctx, "aprs_server_comment", "server comment", slog.String("line", line))
		return
	}
	pkt, err := ParsePacket(line)
	if err != nil {
		metricsx.IncFeedSkipped(RadioFeedName, "unparseable")
		c.logger.Debug(ctx, "aprs_packet_skipped", "unparseable packet",
			slog.String("line", line),
			slog.String("error", err.Error()),
		)
		return
	}
	e := pkt.Event(c.cfg.MissionID)
	e.OccurredAt = c.now().UTC()
	n := appendAll(ctx, RadioFeedName, c.sink, c.logger, []events.Event{e})
	c.tracker.addEmitted(n)
}
