package webrtc

import (
	"fmt"
	"time"

	"hirecall/internal/core/ports"
	"hirecall/pkg/config"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// FactoryConfig holds the peer connection settings shared by every call.
type FactoryConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// FactoryConfigFrom maps the webrtc section of the config.
func FactoryConfigFrom(cfg *config.Config) FactoryConfig {
	var fc FactoryConfig
	for _, s := range cfg.WebRTC.ICEServers {
		fc.ICEServers = append(fc.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	fc.PortRange.Min = cfg.WebRTC.PortRange.Min
	fc.PortRange.Max = cfg.WebRTC.PortRange.Max
	return fc
}

// PeerConnectionFactory builds pion peer connections with the default
// codecs and interceptors (NACK, RTCP reports, TWCC).
type PeerConnectionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.SugaredLogger
}

func NewPeerConnectionFactory(cfg FactoryConfig, logger *zap.SugaredLogger) (*PeerConnectionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}
	if cfg.DisconnectedTimeout > 0 || cfg.FailedTimeout > 0 {
		disconnected, failed, keepAlive := cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval
		if disconnected <= 0 {
			disconnected = 5 * time.Second
		}
		if failed <= 0 {
			failed = 25 * time.Second
		}
		if keepAlive <= 0 {
			keepAlive = 2 * time.Second
		}
		settingEngine.SetICETimeouts(disconnected, failed, keepAlive)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)

	return &PeerConnectionFactory{
		api: api,
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		logger: logger,
	}, nil
}

func (f *PeerConnectionFactory) NewPeerConnection() (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	f.logger.Debugw("Peer connection created", "ice_servers", len(f.config.ICEServers))
	return pc, nil
}
