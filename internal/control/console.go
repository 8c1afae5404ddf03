package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hudlink/hudlink/internal/connection"
	"github.com/hudlink/hudlink/pkg/core"
)

// Link is the part of the connection manager the console drives.
type Link interface {
	Connect(ep core.Endpoint) error
	Disconnect()
	State() core.ConnectionState
	Endpoint() core.Endpoint
	Stats() connection.Stats
}

// Streamer is the part of the scheduler the console drives.
type Streamer interface {
	Start(cfg core.StreamConfig)
	Stop()
	Reconfigure(cfg core.StreamConfig) error
	Trigger()
	Running() bool
	Config() core.StreamConfig
}

// ErrUsage is returned for malformed command arguments.
var ErrUsage = errors.New("usage")

// Console maps operator commands onto a link and a streamer.
type Console struct {
	d           *Dispatcher
	link        Link
	stream      Streamer
	defaultPort uint16
}

// NewConsole registers the console commands on d.
func NewConsole(d *Dispatcher, link Link, stream Streamer, defaultPort uint16) *Console {
	c := &Console{d: d, link: link, stream: stream, defaultPort: defaultPort}

	d.Register("connect", c.connect, Logged(), Usage("connect <host[:port]|MAC|ws://url>"))
	d.Register("disconnect", c.disconnect, Logged(), Usage("disconnect"))
	d.Register("start", c.start, Logged(), Usage("start"))
	d.Register("stop", c.stop, Logged(), Usage("stop"))
	d.Register("rate", c.rate, Logged(), Usage("rate <ms>"))
	d.Register("mode", c.mode, Logged(), Usage("mode <aggregated|discrete>"))
	d.Register("distance", c.distance, Logged(), Usage("distance <metres>"))
	d.Register("poi", c.toggle("poi"), Logged(), Usage("poi <on|off>"))
	d.Register("map", c.toggle("map"), Logged(), Usage("map <on|off>"))
	d.Register("compass", c.toggle("compass"), Logged(), Usage("compass <on|off>"))
	d.Register("refresh", c.refresh, Buffered(4), Usage("refresh"))
	d.Register("status", c.status, Usage("status"))
	d.Register("help", c.help, Usage("help"))

	return c
}

// Run reads commands from r until EOF, ctx is done, or "quit" is entered,
// writing one reply line per command to w.
func (c *Console) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			cmd, ok := ParseLine(line)
			if !ok {
				continue
			}
			if cmd.Name == "quit" || cmd.Name == "exit" {
				return nil
			}
			reply, err := c.d.Dispatch(cmd)
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			if reply != "" {
				fmt.Fprintln(w, reply)
			}
		}
	}
}

func (c *Console) connect(cmd Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", fmt.Errorf("%w: connect <address>", ErrUsage)
	}
	ep, err := core.ParseEndpoint(cmd.Args[0], c.defaultPort)
	if err != nil {
		return "", err
	}

	cfg := c.stream.Config()
	cfg.Endpoint = ep
	if err := c.stream.Reconfigure(cfg); err != nil {
		return "", err
	}
	if err := c.link.Connect(ep); err != nil {
		return "", err
	}
	return "connecting to " + ep.String(), nil
}

func (c *Console) disconnect(Command) (string, error) {
	c.link.Disconnect()
	return "disconnecting", nil
}

func (c *Console) start(Command) (string, error) {
	cfg := c.stream.Config()
	c.stream.Start(cfg)
	if !cfg.Endpoint.IsZero() && c.link.State() == core.StateDisconnected {
		if err := c.link.Connect(cfg.Endpoint); err != nil {
			return "", err
		}
	}
	return "streaming", nil
}

func (c *Console) stop(Command) (string, error) {
	c.stream.Stop()
	return "stopped", nil
}

func (c *Console) rate(cmd Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", fmt.Errorf("%w: rate <ms>", ErrUsage)
	}
	ms, err := strconv.Atoi(cmd.Args[0])
	if err != nil {
		return "", fmt.Errorf("%w: rate <ms>: %v", ErrUsage, err)
	}

	cfg := c.stream.Config()
	cfg.UpdateInterval = time.Duration(ms) * time.Millisecond
	if err := c.stream.Reconfigure(cfg); err != nil {
		return "", err
	}
	return fmt.Sprintf("rate %s", c.stream.Config().UpdateInterval), nil
}

func (c *Console) mode(cmd Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", fmt.Errorf("%w: mode <aggregated|discrete>", ErrUsage)
	}
	name := strings.ToLower(cmd.Args[0])
	if name != "aggregated" && name != "discrete" && name != "legacy" {
		return "", fmt.Errorf("%w: mode <aggregated|discrete>", ErrUsage)
	}
	cfg := c.stream.Config()
	cfg.Mode = core.ParseStreamMode(name)
	if err := c.stream.Reconfigure(cfg); err != nil {
		return "", err
	}
	return "mode " + cfg.Mode.String(), nil
}

func (c *Console) distance(cmd Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", fmt.Errorf("%w: distance <metres>", ErrUsage)
	}
	m, err := strconv.ParseFloat(cmd.Args[0], 64)
	if err != nil || m <= 0 {
		return "", fmt.Errorf("%w: distance must be a positive number", ErrUsage)
	}
	cfg := c.stream.Config()
	cfg.MaxPOIDistanceM = m
	if err := c.stream.Reconfigure(cfg); err != nil {
		return "", err
	}
	return fmt.Sprintf("distance %gm", m), nil
}

func (c *Console) toggle(channel string) HandlerFunc {
	return func(cmd Command) (string, error) {
		if len(cmd.Args) != 1 {
			return "", fmt.Errorf("%w: %s <on|off>", ErrUsage, channel)
		}
		var on bool
		switch strings.ToLower(cmd.Args[0]) {
		case "on", "true", "1":
			on = true
		case "off", "false", "0":
		default:
			return "", fmt.Errorf("%w: %s <on|off>", ErrUsage, channel)
		}

		cfg := c.stream.Config()
		switch channel {
		case "poi":
			cfg.EnablePOI = on
		case "map":
			cfg.EnableMap = on
		case "compass":
			cfg.EnableCompass = on
		}
		if err := c.stream.Reconfigure(cfg); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s", channel, onOff(on)), nil
	}
}

func (c *Console) refresh(Command) (string, error) {
	c.stream.Trigger()
	return "", nil
}

func (c *Console) status(Command) (string, error) {
	return Status(c.link, c.stream), nil
}

func (c *Console) help(Command) (string, error) {
	return strings.Join(append(c.d.Help(), "quit"), "\n"), nil
}

// Status renders a one-line summary of the link and the stream.
func Status(link Link, stream Streamer) string {
	st := link.Stats()
	cfg := stream.Config()
	return fmt.Sprintf(
		"state=%s endpoint=%s streaming=%t rate=%s mode=%s poi=%s map=%s compass=%s sent=%d bytes=%d dropped=%d failures=%d",
		st.State, st.Endpoint, stream.Running(), cfg.UpdateInterval, cfg.Mode,
		onOff(cfg.EnablePOI), onOff(cfg.EnableMap), onOff(cfg.EnableCompass),
		st.Sent, st.SentBytes, st.Dropped, st.Failures,
	)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
