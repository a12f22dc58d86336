// Command doorwatchd watches the motion and door sensors and reports
// entries, exits, or occupancy changes to the backend. It is the
// continuously powered variant; see doorwatch-cycle for the
// power-cycled one.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"doorwatch/internal/config"
	"doorwatch/internal/connect"
	"doorwatch/internal/journal"
	"doorwatch/internal/logging"
	"doorwatch/internal/logic"
	"doorwatch/internal/occupancy"
	"doorwatch/internal/sensor"
	"doorwatch/internal/status"
	"doorwatch/internal/traffic"
	"doorwatch/internal/transmit"
	"doorwatch/internal/web"
)

// tickInterval drives window expiry and heartbeat checks between sensor
// events.
const tickInterval = time.Second

// sendTimeout bounds one delivery attempt.
const sendTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "/etc/doorwatch/config.yaml", "Config file (YAML or JSON)")
	httpAddr := flag.String("http", "", "Override status server address (empty keeps config)")
	mode := flag.String("mode", "", "Override operating mode: traffic or occupancy (empty keeps config)")
	printState := flag.Bool("print-state", false, "Print current sensor levels and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doorwatchd: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Status.Addr = *httpAddr
		cfg.Status.Enabled = true
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "doorwatchd: %v\n", err)
			os.Exit(1)
		}
	}

	logs := logging.New(cfg.LogLevel, os.Stdout)
	if err := run(cfg, logs, *printState); err != nil {
		logs.Get("main").Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, logs *logging.Logrus, printState bool) error {
	log := logs.Get("main")

	in, err := openInputs(cfg)
	if err != nil {
		return fmt.Errorf("init sensors: %w", err)
	}
	defer in.Close()

	if printState {
		return printLevels(in, cfg.Mode)
	}

	// Reachability gate: nothing starts until the backend answers a TCP
	// dial, bounded by the configured probe budget. Exhausting it exits
	// non-zero so the supervisor restarts the whole daemon.
	addr, err := probeTarget(cfg)
	if err != nil {
		return fmt.Errorf("probe target: %w", err)
	}
	probe := &connect.Probe{
		Addr:     addr,
		Interval: cfg.Connect.Interval.Std(),
		Attempts: cfg.Connect.Attempts,
	}
	log.WithField("addr", addr).Info("waiting for backend")
	if err := probe.Ensure(context.Background()); err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	log.Info("backend reachable")

	sender, err := buildSender(cfg, logs)
	if err != nil {
		return fmt.Errorf("init transmit: %w", err)
	}
	defer sender.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Mode:        cfg.Mode,
		WindowMs:    cfg.Traffic.Window.Std().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Std().Milliseconds(),
		Backend:     cfg.Transmit.Backend,
		Target:      cfg.Transmit.Endpoint(),
		HTTPAddr:    cfg.Status.Addr,
	})

	jnl, err := journal.Open(cfg.Journal)
	if err != nil {
		log.WithError(err).Warn("journal disabled: open failed")
		jnl = nil
	} else if err := jnl.Init(context.Background()); err != nil {
		log.WithError(err).Warn("journal disabled: init failed")
		jnl.Close()
		jnl = nil
	}
	defer jnl.Close()

	// Publish startup with a full status snapshot where the transport
	// has a system channel.
	if ss, ok := sender.(transmit.SystemSender); ok {
		snap := tracker.Snapshot()
		ev := transmit.SystemEvent{
			Timestamp:  snap.Now,
			Event:      transmit.EventStartup,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, transmit.EventStartup, ""),
		}
		if err := ss.SendSystem(ev); err != nil {
			log.WithError(err).Warn("startup event not sent")
		} else {
			log.Info("published startup event")
		}
	}

	if cfg.Status.Enabled {
		srv := web.New(cfg.Status.Addr, tracker, jnl)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("status server stopped")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.Status.Addr).Info("status server listening")
	}

	events := make(chan logic.Event, cfg.Sensors.EventBuffer)
	if err := in.Subscribe(func(ev logic.Event) { events <- ev }); err != nil {
		return fmt.Errorf("subscribe sensors: %w", err)
	}

	motionLvl, doorLvl, err := in.Levels()
	if err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}

	d := &daemon{
		mode:      cfg.Mode,
		sender:    sender,
		tracker:   tracker,
		journal:   jnl,
		log:       logs.Get("loop"),
		heartbeat: cfg.Heartbeat.Std(),
		streakMax: cfg.Connect.FailureStreak,
		now:       time.Now,
		motion:    motionLvl,
		door:      doorLvl,
	}
	if cfg.Mode == config.ModeOccupancy {
		d.reporter = occupancy.New()
		// Seed with the current level so the first change reports.
		d.reporter.Restore(doorLvl)
	} else {
		d.correlator = traffic.New(cfg.Traffic.Window.Std())
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.WithFields(logrus.Fields{
		"mode":    cfg.Mode,
		"backend": cfg.Transmit.Backend,
		"window":  cfg.Traffic.Window.Std(),
	}).Info("started")

	return d.run(events, ticker.C, sigCh)
}

// inputs bundles the open sensor ports for the configured mode. The
// motion port is nil in occupancy mode.
type inputs struct {
	motion sensor.EventPort
	door   sensor.EventPort
}

func openInputs(cfg *config.Config) (*inputs, error) {
	door, err := sensor.NewRealPort(sensor.Options{
		Chip:      cfg.Sensors.Chip,
		Pin:       cfg.Sensors.DoorPin,
		Sensor:    logic.SensorDoor,
		ActiveLow: cfg.Sensors.DoorActiveLow,
		Debounce:  cfg.Sensors.DoorDebounce.Std(),
	})
	if err != nil {
		return nil, err
	}
	in := &inputs{door: door}

	if cfg.Mode == config.ModeTraffic {
		motion, err := sensor.NewRealPort(sensor.Options{
			Chip:      cfg.Sensors.Chip,
			Pin:       cfg.Sensors.MotionPin,
			Sensor:    logic.SensorMotion,
			ActiveLow: cfg.Sensors.MotionActiveLow,
		})
		if err != nil {
			door.Close()
			return nil, err
		}
		in.motion = motion
	}
	return in, nil
}

func (in *inputs) Subscribe(fn func(logic.Event)) error {
	if in.motion != nil {
		if err := in.motion.Subscribe(fn); err != nil {
			return err
		}
	}
	return in.door.Subscribe(fn)
}

func (in *inputs) Levels() (motion, door logic.Level, err error) {
	motion = logic.LevelIdle
	if in.motion != nil {
		motion, err = in.motion.Level()
		if err != nil {
			return "", "", err
		}
	}
	door, err = in.door.Level()
	if err != nil {
		return "", "", err
	}
	return motion, door, nil
}

func (in *inputs) Close() error {
	var firstErr error
	if in.motion != nil {
		if err := in.motion.Close(); err != nil {
			firstErr = err
		}
	}
	if err := in.door.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func printLevels(in *inputs, mode string) error {
	motion, door, err := in.Levels()
	if err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}
	if mode == config.ModeOccupancy {
		fmt.Printf("DOOR: %s\n", door)
		return nil
	}
	fmt.Printf("MOTION: %s, DOOR: %s\n", motion, door)
	return nil
}

// probeTarget resolves the host:port the reachability gate dials.
func probeTarget(cfg *config.Config) (string, error) {
	if cfg.Connect.ProbeAddr != "" {
		return cfg.Connect.ProbeAddr, nil
	}
	return connect.TargetAddr(cfg.Transmit.Endpoint())
}

func buildSender(cfg *config.Config, logs *logging.Logrus) (transmit.Sender, error) {
	switch cfg.Transmit.Backend {
	case config.BackendMQTT:
		return transmit.NewMQTTSender(transmit.MQTTOptions{
			Broker:      cfg.Transmit.MQTT.Broker,
			ClientID:    cfg.Transmit.MQTT.ClientID,
			Topic:       cfg.Transmit.MQTT.Topic,
			SystemTopic: cfg.Transmit.MQTT.SystemTopic,
			BufferSize:  cfg.Transmit.MQTT.Buffer,
			Log:         logs.Get("mqtt"),
		})
	default:
		return transmit.NewHTTPSender(transmit.HTTPOptions{
			URL:     cfg.Transmit.HTTP.URL,
			APIKey:  cfg.Transmit.HTTP.APIKey,
			Timeout: cfg.Transmit.HTTP.Timeout.Std(),
		}), nil
	}
}

// daemon is the run loop state. Everything it touches is injected so
// tests can drive it with fakes and a scripted clock.
type daemon struct {
	mode       string
	correlator *traffic.Correlator
	reporter   *occupancy.Reporter
	sender     transmit.Sender
	tracker    *status.Tracker
	journal    *journal.Journal
	log        *logrus.Entry
	heartbeat  time.Duration
	streakMax  int

	now func() time.Time

	// Last observed levels, fed by events after the initial poll.
	motion logic.Level
	door   logic.Level

	streak   int
	lastBeat time.Time
}

func (d *daemon) run(events <-chan logic.Event, tick <-chan time.Time, sig <-chan os.Signal) error {
	d.lastBeat = d.now()

	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil

		case ev := <-events:
			if err := d.handleEvent(ev); err != nil {
				return err
			}

		case <-tick:
			d.handleTick()
		}
	}
}

func (d *daemon) handleEvent(ev logic.Event) error {
	switch ev.Sensor {
	case logic.SensorMotion:
		d.motion = ev.Level
	case logic.SensorDoor:
		d.door = ev.Level
	}

	if d.mode == config.ModeOccupancy {
		return d.handleOccupancy(ev)
	}
	return d.handleTraffic(ev)
}

func (d *daemon) handleTraffic(ev logic.Event) error {
	res := d.correlator.Apply(ev)
	d.updateTraffic()
	if res == nil {
		return nil
	}
	d.log.WithField("direction", res.Direction).Info("traffic resolved")
	return d.emit(transmit.TrafficReading(res.Direction, res.At), string(res.Direction))
}

func (d *daemon) handleOccupancy(ev logic.Event) error {
	if ev.Sensor != logic.SensorDoor {
		return nil
	}
	report := d.reporter.Apply(ev.Level, ev.At)
	d.updateOccupancy()
	if report == nil {
		return nil
	}
	detail := "FREE"
	if report.Occupied() {
		detail = "OCCUPIED"
	}
	d.log.WithField("room", detail).Info("occupancy changed")
	return d.emit(transmit.OccupancyReading(report.Level, report.At), detail)
}

func (d *daemon) handleTick() {
	t := d.now()

	if d.mode == config.ModeOccupancy {
		d.updateOccupancy()
	} else {
		if d.correlator.ExpireIfDue(t) {
			d.log.Debug("pending observation lapsed")
		}
		d.updateTraffic()
	}

	if d.heartbeat > 0 && t.Sub(d.lastBeat) >= d.heartbeat {
		d.lastBeat = t
		d.sendHeartbeat(t)
	}
}

// emit makes one delivery attempt. Failed readings are lost; the streak
// counter turns a persistently dead link into a daemon exit so the
// supervisor restarts us through the reachability gate.
func (d *daemon) emit(r transmit.Reading, detail string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err := d.sender.Send(ctx, r)
	cancel()
	if err != nil {
		d.streak++
		d.log.WithError(err).WithFields(logrus.Fields{
			"category": r.Category,
			"detail":   detail,
			"streak":   d.streak,
		}).Warn("send failed, reading lost")
		if d.tracker != nil {
			d.tracker.SetLinkUp(false)
		}
		if d.streakMax > 0 && d.streak >= d.streakMax {
			return fmt.Errorf("%d consecutive send failures: %w", d.streak, err)
		}
		return nil
	}
	d.streak = 0

	d.log.WithFields(logrus.Fields{
		"category": r.Category,
		"value":    r.Value,
		"detail":   detail,
	}).Info("reading sent")

	if d.tracker != nil {
		d.tracker.SetLinkUp(true)
		d.tracker.SetLastReading(status.Reading{Category: r.Category, Value: r.Value, Detail: detail, At: r.At})
	}

	jctx, jcancel := context.WithTimeout(context.Background(), time.Second)
	if err := d.journal.Append(jctx, journal.Entry{At: r.At, Category: r.Category, Value: r.Value, Detail: detail}); err != nil {
		d.log.WithError(err).Warn("journal append failed")
	}
	jcancel()
	return nil
}

func (d *daemon) updateTraffic() {
	if d.tracker == nil {
		return
	}
	state, armedAt := d.correlator.Snapshot()
	d.tracker.SetTraffic(state, armedAt, d.motion, d.door, d.correlator.Counts())
	d.updateLink()
}

func (d *daemon) updateOccupancy() {
	if d.tracker == nil {
		return
	}
	if level, ok := d.reporter.Level(); ok {
		d.tracker.SetOccupancy(level, d.reporter.Counts())
	}
	d.updateLink()
}

func (d *daemon) updateLink() {
	if ls, ok := d.sender.(transmit.LinkStatus); ok {
		d.tracker.SetLinkUp(ls.IsConnected())
	}
}

func (d *daemon) sendHeartbeat(t time.Time) {
	ss, ok := d.sender.(transmit.SystemSender)
	if !ok {
		return
	}
	ev := transmit.SystemEvent{Timestamp: t, Event: transmit.EventHeartbeat}
	if d.tracker != nil {
		snap := d.tracker.Snapshot()
		ev.RawPayload = status.FormatStatusEvent(snap, transmit.EventHeartbeat, "")
	}
	if err := ss.SendSystem(ev); err != nil {
		d.log.WithError(err).Warn("heartbeat not sent")
	}
}

func (d *daemon) shutdown(s os.Signal) {
	name := "UNKNOWN"
	if s == syscall.SIGINT {
		name = "SIGINT"
	} else if s == syscall.SIGTERM {
		name = "SIGTERM"
	}
	d.log.WithField("signal", name).Info("shutting down")

	ss, ok := d.sender.(transmit.SystemSender)
	if !ok {
		return
	}
	ev := transmit.SystemEvent{
		Timestamp: d.now(),
		Event:     transmit.EventShutdown,
		Reason:    name,
		Retained:  true,
	}
	if d.tracker != nil {
		snap := d.tracker.Snapshot()
		ev.RawPayload = status.FormatStatusEvent(snap, transmit.EventShutdown, name)
	}
	if err := ss.SendSystem(ev); err != nil {
		d.log.WithError(err).Warn("shutdown event not sent")
	}
}
