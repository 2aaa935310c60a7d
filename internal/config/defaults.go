package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			DataDir:   "~/.wabot",
			BotName:   "wabot",
		},
		Commands: CommandsConfig{
			Prefix:                ".",
			TimeZone:              "Asia/Jakarta",
			HandlerTimeoutSeconds: 60,
			SendRatePerMinute:     30,
			SendBurst:             5,
		},
		Session: SessionConfig{
			ReconnectDelaySeconds:    5,
			StartupRetryDelaySeconds: 10,
			PhoneCountryCode:         "62",
		},
		Transport: TransportConfig{
			Kind: "bridge",
			Bridge: BridgeConfig{
				URL:                     "ws://127.0.0.1:8787/session",
				ClientName:              "WABOT",
				HandshakeTimeoutSeconds: 15,
				RequestTimeoutSeconds:   30,
				KeepAliveSeconds:        25,
			},
		},
		Store: StoreConfig{
			DBPath: "~/.wabot/wabot.db",
		},
		Dedup: DedupConfig{
			Backend:    "memory",
			TTLSeconds: 600,
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
