package config

type Config struct {
	BaseURL  string
	HttpPort int
	Db       struct {
		Dsn         string
		Automigrate bool
	}
	Auth struct {
		// Identity tokens are minted by the external auth provider and verified
		// with a shared secret. Session issuance itself lives outside this service.
		SecretKey string
		Issuer    string
	}
	Notifications struct {
		Email string
	}
	Smtp struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
	Redis struct {
		Addr string
		Db   int
	}
	Chain struct {
		RpcEndpoint    string
		ConfirmTimeout int // seconds
		KeystoreFile   string
	}
	KafkaServers string
}
