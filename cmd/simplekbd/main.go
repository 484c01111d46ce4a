package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/simplekbd/internal/config"
	"github.com/cjeanneret/simplekbd/internal/debug"
	"github.com/cjeanneret/simplekbd/internal/hw/gpio"
	"github.com/cjeanneret/simplekbd/internal/hw/mem"
	"github.com/cjeanneret/simplekbd/internal/keyboard"
	"github.com/cjeanneret/simplekbd/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mode := flag.String("mode", "", "override keyboard.mode (multi_line or single_line)")
	count := flag.Int("count", 0, "without web server: number of keys to read before exiting (0 = until interrupted)")
	flag.Parse()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	if *count < 0 {
		log.Fatalf("-count must be >= 0, got %d", *count)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyFlags(cfg, *mode, webPort.port()); err != nil {
		log.Fatalf("invalid flag: %v", err)
	}

	// Initialize debug system
	debug.InitFile(cfg.Logging.DebugLevel, cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	defer debug.Close()
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Logging.DebugLevel)
	debug.Value("Backend", cfg.Hardware.Backend)

	debug.Step(1, "Initializing GPIO driver")
	drv, err := gpio.NewDriver(cfg.GPIOOptions())
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := drv.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Creating keyboard device")
	dev := keyboard.NewDevice(drv, registersFor(cfg, drv))
	defer func() {
		if err := dev.Close(); err != nil {
			log.Printf("closing keyboard failed: %v", err)
		}
	}()
	if err := dev.SetPinConfiguration(cfg.Pins); err != nil {
		log.Fatalf("pin configuration: %v", err)
	}
	debug.PrintStruct("Pins", cfg.Pins)

	if port := cfg.Web.Port; port > 0 {
		broadcaster := web.NewStatusBroadcaster(nil)
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		dev.OnStateChange(broadcaster.StateChange)

		if m := cfg.Mode(); m != 0 {
			debug.Step(3, "Configuring "+m.String())
			if err := dev.Configure(m); err != nil {
				log.Fatalf("configure %s: %v", m, err)
			}
		}

		srv := web.NewServer(fmt.Sprintf(":%d", port), web.NewHandlers(dev, broadcaster, nil))
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	m := cfg.Mode()
	if m == 0 {
		m = keyboard.ModeMultiLine
	}
	if err := readKeys(ctx, dev, m, *count, os.Stdout); err != nil {
		log.Fatalf("read keys: %v", err)
	}
}

// applyFlags applies non-empty CLI overrides to cfg.
func applyFlags(cfg *config.Config, mode string, webPort int) error {
	if mode != "" {
		if _, err := keyboard.ParseMode(mode); err != nil {
			return err
		}
		cfg.Keyboard.Mode = mode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if webPort > 0 {
		cfg.Web.Port = webPort
	}
	return nil
}

// registersFor returns the pad register writer: the mock records writes,
// real backends go through the memory device.
func registersFor(cfg *config.Config, drv gpio.Driver) keyboard.Registers {
	if regs, ok := drv.(keyboard.Registers); ok {
		return regs
	}
	return mem.NewDevMem(cfg.Hardware.MemDevice)
}

// readKeys resets and configures dev for mode, then prints count keys
// (all keys until ctx ends when count is 0).
func readKeys(ctx context.Context, dev *keyboard.Device, mode keyboard.Mode, count int, out io.Writer) error {
	if err := dev.Reset(); err != nil && !errors.Is(err, keyboard.ErrInvalidState) {
		return fmt.Errorf("reset: %w", err)
	}
	if err := dev.Configure(mode); err != nil {
		return fmt.Errorf("configure %s: %w", mode, err)
	}

	h := dev.Open()
	defer h.Close()

	buf := make([]byte, 1)
	for i := 0; count == 0 || i < count; i++ {
		if _, err := h.ReadContext(ctx, buf); err != nil {
			if errors.Is(err, keyboard.ErrCancelled) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		k := keyboard.KeyCode(buf[0] - '0')
		fmt.Fprintf(out, "Key pressed: %c (%s)\n", buf[0], k)
	}
	return nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
