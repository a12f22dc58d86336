package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"doorwatch/internal/config"
	"doorwatch/internal/journal"
	"doorwatch/internal/logic"
	"doorwatch/internal/occupancy"
	"doorwatch/internal/traffic"
	"doorwatch/internal/transmit"
)

func nullLogger() *logrus.Entry {
	log, _ := test.NewNullLogger()
	return log.WithField("component", "testing")
}

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from the
// run loop's goroutine). The loop reads the clock once at startup, once
// per tick, and once at shutdown.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func motion(level logic.Level, at time.Time) logic.Event {
	return logic.Event{Sensor: logic.SensorMotion, Level: level, At: at}
}

func door(level logic.Level, at time.Time) logic.Event {
	return logic.Event{Sensor: logic.SensorDoor, Level: level, At: at}
}

func newTrafficDaemon(fake *transmit.Fake, clock func() time.Time) *daemon {
	return &daemon{
		mode:       config.ModeTraffic,
		correlator: traffic.New(15 * time.Second),
		sender:     fake,
		log:        nullLogger(),
		now:        clock,
		motion:     logic.LevelIdle,
		door:       logic.LevelIdle,
	}
}

func newOccupancyDaemon(fake *transmit.Fake, clock func() time.Time) *daemon {
	d := &daemon{
		mode:     config.ModeOccupancy,
		reporter: occupancy.New(),
		sender:   fake,
		log:      nullLogger(),
		now:      clock,
		motion:   logic.LevelIdle,
		door:     logic.LevelIdle,
	}
	d.reporter.Restore(logic.LevelIdle)
	return d
}

// runDaemon drives the run loop with the given events, then nTicks
// ticks, then the signal, and returns the loop error.
func runDaemon(t *testing.T, d *daemon, events []logic.Event, nTicks int, sig os.Signal) error {
	t.Helper()
	evCh := make(chan logic.Event)
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.run(evCh, tick, sigCh)
	}()

	for _, ev := range events {
		evCh <- ev
	}
	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sigCh <- sig

	return <-errCh
}

func TestRunLoopEntrySequence(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))

	events := []logic.Event{
		door(logic.LevelActive, t0),
		motion(logic.LevelActive, t0.Add(3*time.Second)),
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	sent := fake.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(sent))
	}
	if sent[0].Category != transmit.CategoryTraffic {
		t.Errorf("category: got %q, want %q", sent[0].Category, transmit.CategoryTraffic)
	}
	if sent[0].Value != transmit.ValueEntry {
		t.Errorf("value: got %v, want %v (entry)", sent[0].Value, transmit.ValueEntry)
	}
	if !sent[0].At.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("at: got %v, want resolving event time", sent[0].At)
	}

	// Should have exactly one system event: SHUTDOWN
	if len(fake.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(fake.SystemEvents))
	}
	if fake.SystemEvents[0].Event != transmit.EventShutdown {
		t.Errorf("expected SHUTDOWN event, got %q", fake.SystemEvents[0].Event)
	}
}

func TestRunLoopExitSequence(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))

	events := []logic.Event{
		motion(logic.LevelActive, t0),
		door(logic.LevelActive, t0.Add(5*time.Second)),
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	sent := fake.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(sent))
	}
	if sent[0].Value != transmit.ValueExit {
		t.Errorf("value: got %v, want %v (exit)", sent[0].Value, transmit.ValueExit)
	}
}

func TestRunLoopLapsedPairEmitsNothing(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))

	// The door event arrives after the motion window lapsed; it starts a
	// new pending cycle instead of pairing.
	events := []logic.Event{
		motion(logic.LevelActive, t0),
		door(logic.LevelActive, t0.Add(20*time.Second)),
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := len(fake.Sent()); got != 0 {
		t.Errorf("expected 0 readings, got %d", got)
	}
	if c := d.correlator.Counts(); c.Lapsed != 1 {
		t.Errorf("lapsed count: got %d, want 1", c.Lapsed)
	}
}

func TestRunLoopOwnSensorIdleCancels(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))

	events := []logic.Event{
		motion(logic.LevelActive, t0),
		motion(logic.LevelIdle, t0.Add(2*time.Second)),
		door(logic.LevelActive, t0.Add(3*time.Second)),
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := len(fake.Sent()); got != 0 {
		t.Errorf("expected 0 readings, got %d", got)
	}
	if c := d.correlator.Counts(); c.SensorIdle != 1 {
		t.Errorf("sensor-idle count: got %d, want 1", c.SensorIdle)
	}
}

func TestRunLoopTickExpiresPendingWindow(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	// Clock: run start reads t0, the tick reads t0+16s.
	d := newTrafficDaemon(fake, fakeClock(t0, 16*time.Second))

	evCh := make(chan logic.Event)
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.run(evCh, tick, sigCh)
	}()

	evCh <- motion(logic.LevelActive, t0)
	tick <- time.Time{}
	sigCh <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := len(fake.Sent()); got != 0 {
		t.Errorf("expected 0 readings, got %d", got)
	}
	if c := d.correlator.Counts(); c.Lapsed != 1 {
		t.Errorf("lapsed count: got %d, want 1", c.Lapsed)
	}
}

func TestRunLoopBackToBackCycles(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))

	events := []logic.Event{
		door(logic.LevelActive, t0),
		motion(logic.LevelActive, t0.Add(2*time.Second)), // entry
		motion(logic.LevelActive, t0.Add(30*time.Second)),
		door(logic.LevelActive, t0.Add(33*time.Second)), // exit
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	sent := fake.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(sent))
	}
	if sent[0].Value != transmit.ValueEntry {
		t.Errorf("first reading: got %v, want entry", sent[0].Value)
	}
	if sent[1].Value != transmit.ValueExit {
		t.Errorf("second reading: got %v, want exit", sent[1].Value)
	}
}

func TestRunLoopOccupancyReportsChanges(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newOccupancyDaemon(fake, fixedClock(t0))

	events := []logic.Event{
		door(logic.LevelActive, t0.Add(time.Second)), // latch released: free
		door(logic.LevelIdle, t0.Add(time.Minute)),   // locked again: occupied
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	sent := fake.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(sent))
	}
	if sent[0].Category != transmit.CategoryOccupancy {
		t.Errorf("category: got %q, want %q", sent[0].Category, transmit.CategoryOccupancy)
	}
	if sent[0].Value != transmit.ValueFree {
		t.Errorf("first reading: got %v, want free", sent[0].Value)
	}
	if sent[1].Value != transmit.ValueOccupied {
		t.Errorf("second reading: got %v, want occupied", sent[1].Value)
	}
}

func TestRunLoopOccupancyIgnoresMotion(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newOccupancyDaemon(fake, fixedClock(t0))

	events := []logic.Event{
		motion(logic.LevelActive, t0),
		motion(logic.LevelIdle, t0.Add(time.Second)),
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := len(fake.Sent()); got != 0 {
		t.Errorf("expected 0 readings, got %d", got)
	}
}

func TestRunLoopSendFailureKeepsRunning(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	fake.FailWith(errors.New("backend down"))
	d := newTrafficDaemon(fake, fixedClock(t0))

	events := []logic.Event{
		door(logic.LevelActive, t0),
		motion(logic.LevelActive, t0.Add(time.Second)),
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := len(fake.Sent()); got != 0 {
		t.Errorf("expected 0 recorded readings (send failed), got %d", got)
	}

	// SHUTDOWN should still be published.
	found := false
	for _, se := range fake.SystemEvents {
		if se.Event == transmit.EventShutdown {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event despite send errors")
	}
}

func TestRunLoopFailureStreakEscalates(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	fake.FailWith(errors.New("backend down"))
	d := newTrafficDaemon(fake, fixedClock(t0))
	d.streakMax = 2

	events := []logic.Event{
		door(logic.LevelActive, t0),
		motion(logic.LevelActive, t0.Add(time.Second)), // lost, streak 1
		door(logic.LevelActive, t0.Add(30*time.Second)),
		motion(logic.LevelActive, t0.Add(31*time.Second)), // lost, streak 2
	}
	err := runDaemon(t, d, events, 0, syscall.SIGTERM)
	if err == nil {
		t.Fatal("expected error after failure streak")
	}
	if !strings.Contains(err.Error(), "consecutive send failures") {
		t.Errorf("error: got %q, want streak failure", err)
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))

	if err := runDaemon(t, d, nil, 0, syscall.SIGINT); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(fake.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(fake.SystemEvents))
	}
	se := fake.SystemEvents[0]
	if se.Event != transmit.EventShutdown {
		t.Errorf("expected SHUTDOWN, got %q", se.Event)
	}
	if se.Reason != "SIGINT" {
		t.Errorf("expected reason SIGINT, got %q", se.Reason)
	}
	if !se.Retained {
		t.Error("expected Retained=true for SHUTDOWN")
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))

	if err := runDaemon(t, d, nil, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	se := fake.SystemEvents[0]
	if se.Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", se.Reason)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := transmit.NewFake()
	// Clock: start t0, then one read per tick at 10-minute steps.
	// Beats fire on the ticks at t0+20m and t0+40m.
	d := newTrafficDaemon(fake, fakeClock(t0, 10*time.Minute))
	d.heartbeat = 15 * time.Minute

	if err := runDaemon(t, d, nil, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for _, se := range fake.SystemEvents {
		switch se.Event {
		case transmit.EventHeartbeat:
			heartbeats++
		case transmit.EventShutdown:
			shutdowns++
		}
	}
	if heartbeats != 2 {
		t.Errorf("expected 2 HEARTBEAT events, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopJournalsEmissions(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dsn := "file:" + filepath.Join(t.TempDir(), "journal.db")
	jnl, err := journal.Open(config.JournalConfig{Enabled: true, DSN: dsn, Keep: 10})
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer jnl.Close()
	if err := jnl.Init(context.Background()); err != nil {
		t.Fatalf("init journal: %v", err)
	}

	fake := transmit.NewFake()
	d := newTrafficDaemon(fake, fixedClock(t0))
	d.journal = jnl

	events := []logic.Event{
		door(logic.LevelActive, t0),
		motion(logic.LevelActive, t0.Add(time.Second)),
	}
	if err := runDaemon(t, d, events, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	entries, err := jnl.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	if entries[0].Detail != "ENTRY" {
		t.Errorf("detail: got %q, want ENTRY", entries[0].Detail)
	}
	if entries[0].Value != transmit.ValueEntry {
		t.Errorf("value: got %v, want entry", entries[0].Value)
	}
}

func TestProbeTarget(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*config.Config)
		want  string
	}{
		{
			name:  "explicit probe address wins",
			tweak: func(c *config.Config) { c.Connect.ProbeAddr = "10.0.0.2:9999" },
			want:  "10.0.0.2:9999",
		},
		{
			name:  "http backend derives from URL",
			tweak: func(c *config.Config) { c.Transmit.HTTP.URL = "http://192.168.1.10:5000/sensors/add" },
			want:  "192.168.1.10:5000",
		},
		{
			name: "https URL defaults to 443",
			tweak: func(c *config.Config) {
				c.Transmit.HTTP.URL = "https://backend.lan/sensors/add"
			},
			want: "backend.lan:443",
		},
		{
			name: "mqtt backend derives from broker",
			tweak: func(c *config.Config) {
				c.Transmit.Backend = config.BackendMQTT
				c.Transmit.MQTT.Broker = "tcp://broker.lan:1883"
			},
			want: "broker.lan:1883",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.tweak(cfg)
			got, err := probeTarget(cfg)
			if err != nil {
				t.Fatalf("probeTarget: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
