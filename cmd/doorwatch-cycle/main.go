// Command doorwatch-cycle runs one wake cycle of the power-cycled
// variant: restore the retained correlator state, fold in the polled
// sensor levels, transmit a resolution if one completed, then persist
// the state and the next wake plan before the platform powers the
// device back down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"doorwatch/internal/config"
	"doorwatch/internal/connect"
	"doorwatch/internal/logging"
	"doorwatch/internal/logic"
	"doorwatch/internal/occupancy"
	"doorwatch/internal/retain"
	"doorwatch/internal/sensor"
	"doorwatch/internal/traffic"
	"doorwatch/internal/transmit"
	"doorwatch/internal/wake"
)

// Wake cause hints the platform helper may pass on the command line.
const (
	wakeDoor   = "door"
	wakeMotion = "motion"
	wakeTimer  = "timer"
)

func main() {
	configPath := flag.String("config", "/etc/doorwatch/config.yaml", "Config file (YAML or JSON)")
	wakeHint := flag.String("wake", "", "Wake cause from the platform helper: door, motion, or timer")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doorwatch-cycle: %v\n", err)
		os.Exit(1)
	}

	logs := logging.New(cfg.LogLevel, os.Stdout)
	if err := run(cfg, logs, *wakeHint); err != nil {
		logs.Get("main").Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, logs *logging.Logrus, hint string) error {
	door, err := sensor.NewRealPort(sensor.Options{
		Chip:      cfg.Sensors.Chip,
		Pin:       cfg.Sensors.DoorPin,
		Sensor:    logic.SensorDoor,
		ActiveLow: cfg.Sensors.DoorActiveLow,
		Debounce:  cfg.Sensors.DoorDebounce.Std(),
	})
	if err != nil {
		return fmt.Errorf("init door sensor: %w", err)
	}
	defer door.Close()

	c := &cycle{
		mode:    cfg.Mode,
		hint:    hint,
		window:  cfg.Traffic.Window.Std(),
		timeout: cfg.Connect.CycleTimeout.Std(),
		store:   retain.NewFileStore(cfg.Retain.Path),
		armer:   wake.NewFileArmer(cfg.Retain.PlanPath),
		door:    door,
		log:     logs.Get("cycle"),
		now:     time.Now,
	}

	if cfg.Mode == config.ModeTraffic {
		motion, err := sensor.NewRealPort(sensor.Options{
			Chip:      cfg.Sensors.Chip,
			Pin:       cfg.Sensors.MotionPin,
			Sensor:    logic.SensorMotion,
			ActiveLow: cfg.Sensors.MotionActiveLow,
		})
		if err != nil {
			return fmt.Errorf("init motion sensor: %w", err)
		}
		defer motion.Close()
		c.motion = motion
	}

	c.ensure = func(ctx context.Context) error {
		addr := cfg.Connect.ProbeAddr
		if addr == "" {
			derived, err := connect.TargetAddr(cfg.Transmit.Endpoint())
			if err != nil {
				return fmt.Errorf("probe target: %w", err)
			}
			addr = derived
		}
		probe := &connect.Probe{Addr: addr, Interval: cfg.Connect.Interval.Std()}
		return probe.Ensure(ctx)
	}
	c.sender = func() (transmit.Sender, error) {
		return buildSender(cfg, logs)
	}

	return c.run()
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

// cycle is one power-up pass. All collaborators are injected so tests
// can run passes back to back against the same store.
type cycle struct {
	mode    string
	hint    string
	window  time.Duration
	timeout time.Duration

	store  retain.Store
	armer  wake.Armer
	motion sensor.Port // nil in occupancy mode
	door   sensor.Port

	ensure func(ctx context.Context) error
	sender func() (transmit.Sender, error)
	log    *logrus.Entry
	now    func() time.Time
}

func (c *cycle) run() error {
	now := c.now()

	rec, ok, err := c.store.Load()
	if err != nil {
		return err
	}
	if !ok {
		c.log.Info("no retained record, cold boot")
	}
	if c.hint != "" {
		c.log.WithField("wake", c.hint).Debug("wake cause hinted")
	}

	if c.mode == config.ModeOccupancy {
		return c.runOccupancy(rec, ok, now)
	}
	return c.runTraffic(rec, ok, now)
}

func (c *cycle) runTraffic(rec retain.Record, ok bool, now time.Time) error {
	motionLvl, err := c.motion.Level()
	if err != nil {
		return fmt.Errorf("read motion sensor: %w", err)
	}
	doorLvl, err := c.door.Level()
	if err != nil {
		return fmt.Errorf("read door sensor: %w", err)
	}

	corr := traffic.New(c.window)

	// A cold boot has no baseline; the polled levels become it and no
	// event derives, the same way the occupancy reporter primes.
	prevMotion, prevDoor := motionLvl, doorLvl
	if ok {
		prevMotion, prevDoor = rec.Motion, rec.Door
		if corr.Restore(rec.State, rec.ArmedAt, now) {
			c.log.Info("stale pending observation discarded")
		}
	}

	state, _ := corr.Snapshot()
	events := deriveEvents(state, prevMotion, motionLvl, prevDoor, doorLvl, c.hint, now)

	var res *traffic.Resolution
	for _, ev := range events {
		c.log.WithFields(logrus.Fields{
			"sensor": ev.Sensor,
			"level":  ev.Level,
		}).Debug("derived event")
		if r := corr.Apply(ev); r != nil {
			res = r
		}
	}

	if res != nil {
		c.log.WithField("direction", res.Direction).Info("traffic resolved")
		c.send(transmit.TrafficReading(res.Direction, res.At), string(res.Direction))
	}

	state, armedAt := corr.Snapshot()
	if err := c.store.Save(retain.Record{
		State:   state,
		ArmedAt: armedAt,
		Motion:  motionLvl,
		Door:    doorLvl,
		SavedAt: now,
	}); err != nil {
		return err
	}

	plan := wake.Next(state, motionLvl, doorLvl, corr.Remaining(now))
	if err := c.armer.Arm(plan); err != nil {
		c.log.WithError(err).Warn("wake plan not written")
	}

	c.log.WithFields(logrus.Fields{
		"state":       state,
		"door_wake":   plan.DoorLevel,
		"motion_wake": plan.MotionWake,
		"timer":       plan.Timer,
	}).Info("cycle complete")
	return nil
}

func (c *cycle) runOccupancy(rec retain.Record, ok bool, now time.Time) error {
	doorLvl, err := c.door.Level()
	if err != nil {
		return fmt.Errorf("read door sensor: %w", err)
	}

	rep := occupancy.New()
	if ok {
		rep.Restore(rec.Door)
	}

	if report := rep.Apply(doorLvl, now); report != nil {
		detail := "FREE"
		if report.Occupied() {
			detail = "OCCUPIED"
		}
		c.log.WithField("room", detail).Info("occupancy changed")
		c.send(transmit.OccupancyReading(report.Level, report.At), detail)
	}

	if err := c.store.Save(retain.Record{
		State:   traffic.StateIdle,
		Motion:  logic.LevelIdle,
		Door:    doorLvl,
		SavedAt: now,
	}); err != nil {
		return err
	}

	plan := wake.NextOccupancy(doorLvl)
	if err := c.armer.Arm(plan); err != nil {
		c.log.WithError(err).Warn("wake plan not written")
	}

	c.log.WithFields(logrus.Fields{
		"door":      doorLvl,
		"door_wake": plan.DoorLevel,
	}).Info("cycle complete")
	return nil
}

// send makes the cycle's single bounded transmission attempt. A cycle
// never retries; an unreachable backend or a failed delivery loses the
// reading and the cycle carries on to persist state and power down.
func (c *cycle) send(r transmit.Reading, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.ensure(ctx); err != nil {
		c.log.WithError(err).Warn("backend unreachable, reading skipped")
		return
	}

	s, err := c.sender()
	if err != nil {
		c.log.WithError(err).Warn("transmit init failed, reading skipped")
		return
	}
	defer s.Close()

	if err := s.Send(ctx, r); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"category": r.Category,
			"detail":   detail,
		}).Warn("send failed, reading lost")
		return
	}
	c.log.WithFields(logrus.Fields{
		"category": r.Category,
		"value":    r.Value,
		"detail":   detail,
	}).Info("reading sent")
}

// deriveEvents turns the level deltas since the previous cycle into at
// most one event per sensor. When both sensors moved the order matters:
// the event that woke the device happened first. The platform's wake
// hint settles it when present; otherwise a pending observation's
// resolving edge goes before the own-sensor return to idle, and a fresh
// door activation goes before fresh motion (a person entering trips the
// door first).
func deriveEvents(state traffic.State, prevMotion, motion, prevDoor, door logic.Level, hint string, at time.Time) []logic.Event {
	var motionEv, doorEv *logic.Event
	if motion != prevMotion {
		motionEv = &logic.Event{Sensor: logic.SensorMotion, Level: motion, At: at}
	}
	if door != prevDoor {
		doorEv = &logic.Event{Sensor: logic.SensorDoor, Level: door, At: at}
	}

	switch {
	case motionEv == nil && doorEv == nil:
		return nil
	case doorEv == nil:
		return []logic.Event{*motionEv}
	case motionEv == nil:
		return []logic.Event{*doorEv}
	}

	motionFirst := false
	switch {
	case hint == wakeMotion:
		motionFirst = true
	case hint == wakeDoor:
		// Explicitly ordered by the platform.
	case state == traffic.StateDoorPending && motionEv.Level == logic.LevelActive:
		motionFirst = true
	}
	if motionFirst {
		return []logic.Event{*motionEv, *doorEv}
	}
	return []logic.Event{*doorEv, *motionEv}
}
