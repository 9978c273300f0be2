package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/internal/core/services"
	"hirecall/internal/infrastructure/api"
	"hirecall/internal/infrastructure/monitoring"
	signaling "hirecall/internal/infrastructure/signal"
	"hirecall/internal/infrastructure/speech"
	webrtcinfra "hirecall/internal/infrastructure/webrtc"
	"hirecall/pkg/config"
	"hirecall/pkg/logger"
	"hirecall/pkg/tracing"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml")
		callTo     = flag.String("call", "", "comma separated participants to call, as id or id:Name")
		answer     = flag.Bool("answer", false, "wait for incoming calls and accept them")
		history    = flag.Bool("history", false, "print call history and exit")
		limit      = flag.Int("limit", 0, "history page size")
		offset     = flag.Int("offset", 0, "history offset")
		hangup     = flag.Duration("hangup-after", 0, "end an active call after this long")
		noVideo    = flag.Bool("no-video", false, "send audio only")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := loadConfig(*configPath)

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if cfg.Client.UserID == "" {
		log.Fatal("client.user_id (HIRECALL_USER_ID) is required")
	}
	self := domain.Participant{ID: domain.UserID(cfg.Client.UserID), Description: cfg.Client.DisplayName}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "hirecall-client",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := tokenProvider(cfg, self)

	clientCfg := api.DefaultClientConfig(cfg.Client.APIURL, tokens)
	clientCfg.Timeout = cfg.Client.HTTPTimeout
	callAPI := api.NewCallClient(clientCfg, log.Named("api"))

	if *history {
		if err := printHistory(ctx, cfg, callAPI, self.ID, *limit, *offset, log); err != nil {
			log.Fatalw("Failed to list call history", "error", err, "breaker", callAPI.BreakerState().String())
		}
		return
	}

	if *callTo == "" && !*answer {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -call, -answer or -history")
		flag.Usage()
		os.Exit(2)
	}

	dialer := &signaling.Dialer{
		BaseURL: cfg.Client.WSURL,
		Tokens:  tokens,
		Options: signaling.TransportOptions{
			PingInterval:   cfg.Client.PingInterval,
			PongTimeout:    cfg.Client.PongTimeout,
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 1 << 20,
		},
		HandshakeTimeout: cfg.Client.DialTimeout,
		Logger:           log.Named("signal"),
		OnState: func(path string, state domain.ChannelState) {
			log.Debugw("Signaling channel state", "path", path, "state", state)
		},
	}

	control, err := dialer.DialControl(ctx)
	if err != nil {
		log.Fatalw("Failed to open control channel", "error", err)
	}
	defer control.Close()

	peers, err := webrtcinfra.NewPeerConnectionFactory(webrtcinfra.FactoryConfigFrom(cfg), log.Named("webrtc"))
	if err != nil {
		log.Fatalw("Failed to create peer connection factory", "error", err)
	}

	recorder := &webrtcinfra.TrackRecorder{Dir: cfg.Client.RecordDir, Logger: log.Named("recorder")}
	defer func() {
		recorder.Wait()
		for _, f := range recorder.Files() {
			fmt.Printf("recorded %s\n", f)
		}
	}()

	var recognition func() ports.RecognitionEngine
	if cfg.Transcription.Enabled && cfg.Transcription.EngineURL != "" {
		recognition = func() ports.RecognitionEngine {
			return speech.NewWSEngine(speech.Config{
				URL:      cfg.Transcription.EngineURL,
				Language: cfg.Transcription.Language,
				Token:    tokens,
			}, log.Named("speech"))
		}
	}

	events := newConsole(self.ID, *answer)
	orchestrator := services.NewCallOrchestrator(services.CallDeps{
		Self:        self,
		API:         callAPI,
		Control:     control,
		Dialer:      dialer,
		Media:       &webrtcinfra.FileMediaSource{AudioPath: cfg.Client.AudioFile, VideoPath: cfg.Client.VideoFile, Logger: log.Named("media")},
		Peers:       peers,
		Recognition: recognition,
		RemoteSink:  recorder,
		Metrics:     monitoring.NewCallCollector(monitoring.NewRegistry()),
		Observer:    events,
		Logger:      log.Named("call"),
	}, callConfig(cfg, *noVideo))
	defer orchestrator.Close()

	events.accept = func(callID domain.CallID) {
		if err := orchestrator.AcceptCall(ctx); err != nil {
			log.Warnw("Failed to accept call", "call_id", callID, "error", err)
		}
	}
	events.decline = func(callID domain.CallID) {
		if err := orchestrator.DeclineCall(ctx); err != nil {
			log.Warnw("Failed to decline call", "call_id", callID, "error", err)
		}
	}

	if *callTo != "" {
		participants, err := parseParticipants(*callTo)
		if err != nil {
			log.Fatalw("Invalid -call value", "error", err)
		}
		call, err := orchestrator.PlaceCall(ctx, participants)
		if err != nil {
			log.Fatalw("Failed to place call", "error", err)
		}
		fmt.Printf("calling %s (call %s)\n", services.Summarize(domain.CallWithTranscript{Call: *call}, self.ID).PeerNames(), call.ID)
	}

	var hangupTimer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if !orchestrator.Phase().Idle() {
				endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := orchestrator.EndCall(endCtx); err != nil {
					log.Warnw("Failed to end call", "error", err)
				}
				cancel()
			}
			return
		case phase := <-events.phases:
			switch phase {
			case domain.CallPhaseActive:
				if *hangup > 0 {
					hangupTimer = time.After(*hangup)
				}
			case domain.CallPhaseEnded:
				hangupTimer = nil
				printTranscript(orchestrator.Transcript())
				if !*answer {
					return
				}
			}
		case <-hangupTimer:
			hangupTimer = nil
			if err := orchestrator.EndCall(ctx); err != nil {
				log.Warnw("Failed to end call", "error", err)
			}
		}
	}
}

func loadConfig(path string) *config.Config {
	paths := []string{"configs/config.yaml", "./configs/config.yaml", "config.yaml"}
	if path != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		if cfg, err := config.Load(p); err == nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

func tokenProvider(cfg *config.Config, self domain.Participant) ports.TokenProvider {
	if cfg.Client.Token != "" {
		return signaling.StaticToken(cfg.Client.Token)
	}
	return &api.DevTokenSource{BaseURL: cfg.Client.APIURL, UserID: self.ID, Username: self.Description}
}

func callConfig(cfg *config.Config, audioOnly bool) services.CallConfig {
	cc := services.DefaultCallConfig()
	cc.Peer.NegotiationTimeout = cfg.Call.NegotiationTimeout
	cc.Peer.Constraints.Video = !audioOnly

	cc.Reconnect.MaxAttempts = cfg.Call.Reconnect.MaxAttempts
	cc.Reconnect.InitialDelay = cfg.Call.Reconnect.InitialDelay
	cc.Reconnect.MaxDelay = cfg.Call.Reconnect.MaxDelay
	cc.Reconnect.Multiplier = cfg.Call.Reconnect.Multiplier

	for _, dir := range []struct {
		tc       *services.TranscriptionConfig
		outgoing bool
	}{
		{&cc.TranscriptionOutgoing, true},
		{&cc.TranscriptionIncoming, false},
	} {
		dir.tc.MaxRestarts = cfg.MaxRestarts(dir.outgoing)
		dir.tc.RestartDelay = cfg.Transcription.RestartDelay
		dir.tc.NoSpeechRestartDelay = cfg.Transcription.NoSpeechRestartDelay
		dir.tc.RetryDelay = cfg.Transcription.RetryDelay
		dir.tc.InterimClearDelay = cfg.Transcription.InterimClearDelay
	}
	return cc
}

func parseParticipants(value string) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, name, _ := strings.Cut(item, ":")
		out = append(out, domain.Participant{ID: domain.UserID(strings.TrimSpace(id)), Description: strings.TrimSpace(name)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no participants in %q", value)
	}
	return out, nil
}

func printHistory(ctx context.Context, cfg *config.Config, callAPI ports.CallAPI, self domain.UserID, limit, offset int, log *zap.SugaredLogger) error {
	var svc ports.CallHistoryService = services.NewCallHistoryService(callAPI, cfg.History.DefaultLimit, log.Named("history"))
	if cfg.History.CacheTTL > 0 {
		cached := services.NewCachedCallHistoryService(svc, cfg.History.CacheTTL, log.Named("history"))
		defer cached.Stop()
		svc = cached
	}
	calls, err := svc.ListCalls(ctx, limit, offset)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		fmt.Println("no calls yet")
		return nil
	}
	for _, c := range calls {
		s := services.Summarize(c, self)
		duration := "-"
		if s.Duration > 0 {
			duration = s.Duration.Round(time.Second).String()
		}
		fmt.Printf("%s  %-24s  %-8s  %6s  %2d lines  %s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"), s.PeerNames(), s.Status, duration, s.EntryCount, s.Preview)
	}
	return nil
}

func printTranscript(entries []domain.TranscriptEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Println("transcript:")
	for _, e := range entries {
		fmt.Printf("  [%s] %s: %s\n", e.Timestamp.Local().Format("15:04:05"), e.User, e.Text)
	}
}
