package explorer

// Config contains the server's tunables.
//
// - addr: listen address
// - max_batch: largest batch accepted by /api/gradients
// - max_params: largest model /api/init will build
// - default_seed: seed used when an init request does not pass one
type Config struct {
	Addr        string `json:"addr"`
	MaxBatch    int    `json:"max_batch"`
	MaxParams   int    `json:"max_params"`
	DefaultSeed int64  `json:"default_seed"`
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		MaxBatch:    256,
		MaxParams:   100_000,
		DefaultSeed: 1337,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = d.MaxBatch
	}
	if c.MaxParams <= 0 {
		c.MaxParams = d.MaxParams
	}
	if c.DefaultSeed == 0 {
		c.DefaultSeed = d.DefaultSeed
	}
	return c
}
