package pathcodec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/verprune/verprune/internal/logging"
)

const (
	// DefaultQueueSize is the number of distinct segments per batch.
	DefaultQueueSize = 1000

	// DefaultArgLimit bounds the total segment bytes queued per batch.
	DefaultArgLimit = 131072

	// namesPerCall is the number of segments passed to one rclone invocation.
	namesPerCall = 1000
)

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// RcloneConfig configures the rclone translator.
type RcloneConfig struct {
	// Binary is the rclone executable. Default: "rclone"
	Binary string

	// Remote is the name of the crypt remote, without the trailing colon.
	Remote string

	// ConfigFile is passed as --config when set.
	ConfigFile string

	// QueueSize is the number of distinct segments that fills a batch.
	// Default: 1000
	QueueSize int

	// ArgLimit bounds the bytes of queued segments. Default: 131072
	ArgLimit int
}

// Rclone translates names with "rclone cryptdecode".
type Rclone struct {
	cfg    RcloneConfig
	run    Runner
	logger *logging.Logger

	mu       sync.Mutex
	queue    map[string]struct{}
	order    []string
	queueLen int
	mappings map[string]string
}

// RcloneOption customizes an Rclone translator.
type RcloneOption func(*Rclone)

// WithRunner replaces the command runner.
func WithRunner(run Runner) RcloneOption {
	return func(r *Rclone) { r.run = run }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) RcloneOption {
	return func(r *Rclone) { r.logger = l }
}

// NewRclone creates an rclone-backed translator.
func NewRclone(cfg RcloneConfig, opts ...RcloneOption) (*Rclone, error) {
	if cfg.Remote == "" {
		return nil, errors.New("pathcodec: rclone remote is required")
	}
	cfg.Remote = strings.TrimSuffix(cfg.Remote, ":")
	if cfg.Binary == "" {
		cfg.Binary = "rclone"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ArgLimit <= 0 {
		cfg.ArgLimit = DefaultArgLimit
	}
	r := &Rclone{
		cfg:      cfg,
		run:      ExecRunner,
		logger:   logging.Global(),
		queue:    make(map[string]struct{}),
		mappings: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("pathcodec")
	return r, nil
}

// Enqueue queues every unknown segment of encoded.
func (r *Rclone) Enqueue(encoded string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range strings.Split(encoded, "/") {
		if name == "" {
			continue
		}
		if _, ok := r.mappings[name]; ok {
			continue
		}
		if _, ok := r.queue[name]; ok {
			continue
		}
		r.queue[name] = struct{}{}
		r.order = append(r.order, name)
		r.queueLen += len(name) + 1
	}
	return r.fullLocked()
}

// Full reports whether the queue reached QueueSize segments or ArgLimit bytes.
func (r *Rclone) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fullLocked()
}

func (r *Rclone) fullLocked() bool {
	return len(r.order) >= r.cfg.QueueSize || r.queueLen >= r.cfg.ArgLimit
}

// Flush runs rclone over the queued segments. Segments are split into
// invocations of at most namesPerCall names and ArgLimit bytes.
func (r *Rclone) Flush(ctx context.Context) error {
	r.mu.Lock()
	pending := r.order
	r.order = nil
	r.queue = make(map[string]struct{})
	r.queueLen = 0
	r.mu.Unlock()

	for len(pending) > 0 {
		n, size := 0, 0
		for n < len(pending) && n < namesPerCall {
			if n > 0 && size+len(pending[n])+1 > r.cfg.ArgLimit {
				break
			}
			size += len(pending[n]) + 1
			n++
		}
		if err := r.decode(ctx, pending[:n]); err != nil {
			return err
		}
		pending = pending[n:]
	}
	return nil
}

// failedToDecrypt is what cryptdecode prints in place of a name it cannot
// decrypt.
const failedToDecrypt = "Failed to decrypt"

func (r *Rclone) decode(ctx context.Context, names []string) error {
	args := []string{"cryptdecode"}
	if r.cfg.ConfigFile != "" {
		args = append(args, "--config", r.cfg.ConfigFile)
	}
	args = append(args, r.cfg.Remote+":")
	args = append(args, names...)

	out, err := r.run(ctx, r.cfg.Binary, args...)
	if err != nil {
		return fmt.Errorf("pathcodec: cryptdecode: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	failed := 0
	for _, line := range strings.Split(string(out), "\n") {
		enc, dec, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		enc = strings.TrimSuffix(enc, " ")
		dec = strings.TrimPrefix(dec, " ")
		if dec == failedToDecrypt {
			failed++
			continue
		}
		r.mappings[enc] = dec
	}
	if failed > 0 {
		r.logger.Warnf("names could not be decrypted", map[string]any{"failed": failed, "names": len(names)})
	}
	r.logger.Debugf("decoded names", map[string]any{"names": len(names), "known": len(r.mappings)})
	return nil
}

// Resolve maps each segment of encoded. Empty segments are kept.
func (r *Rclone) Resolve(encoded string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := strings.Split(encoded, "/")
	for i, name := range parts {
		if name == "" {
			continue
		}
		dec, ok := r.mappings[name]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUntranslated, name)
		}
		parts[i] = dec
	}
	return strings.Join(parts, "/"), nil
}

// DiscoverCryptRemote returns the single crypt remote in the rclone
// configuration, as reported by "rclone config dump".
func DiscoverCryptRemote(ctx context.Context, run Runner, binary, configFile string) (string, error) {
	if run == nil {
		run = ExecRunner
	}
	if binary == "" {
		binary = "rclone"
	}
	args := []string{"config", "dump"}
	if configFile != "" {
		args = append([]string{"--config", configFile}, args...)
	}
	out, err := run(ctx, binary, args...)
	if err != nil {
		return "", fmt.Errorf("pathcodec: config dump: %w", err)
	}

	var remotes map[string]map[string]any
	if err := json.Unmarshal(out, &remotes); err != nil {
		return "", fmt.Errorf("pathcodec: parse config dump: %w", err)
	}
	var crypt []string
	for name, values := range remotes {
		if t, _ := values["type"].(string); t == "crypt" {
			crypt = append(crypt, name)
		}
	}
	sort.Strings(crypt)
	switch len(crypt) {
	case 0:
		return "", errors.New("pathcodec: no crypt remote configured")
	case 1:
		return crypt[0], nil
	default:
		return "", fmt.Errorf("pathcodec: several crypt remotes configured (%s), pick one", strings.Join(crypt, ", "))
	}
}

var _ Translator = (*Rclone)(nil)
