package config

const (
	defaultRoot                  = "~/.local/share/medialib"
	defaultAssetSubdir           = "internalapi/asset"
	defaultThumbnailSubdir       = "scratchr2/static/medialibrarythumbnails"
	defaultManifestSubdir        = "scratchr2/static/medialibraries"
	defaultScratchSubdir         = "tmp"
	defaultStateSubdir           = "state"
	defaultLogSubdir             = "logs"
	defaultProjectSubdir         = "internalapi/projects"
	defaultBackdropManifest      = "backdropLibrary.json"
	defaultCostumeManifest       = "costumeLibrary.json"
	defaultSoundManifest         = "soundLibrary.json"
	defaultSpriteManifest        = "spriteLibrary.json"
	defaultHashAlgorithm         = "md5"
	defaultThumbnailMaxDimension = 100
	defaultTag                   = "custom"
	defaultOrigin                = "https://cdn.assets.scratch.mit.edu/internalapi/asset"
	defaultCrawlWorkers          = 4
	defaultRequestTimeoutSeconds = 20
	defaultMaxRetries            = 2
	defaultRetryBackoffMillis    = 500
	defaultBreakerThreshold      = 8
	defaultBreakerCooldown       = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	maxCrawlWorkers              = 64
	maxCrawlRetries              = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			Root: defaultRoot,
		},
		Manifests: Manifests{
			Backdrop: defaultBackdropManifest,
			Costume:  defaultCostumeManifest,
			Sound:    defaultSoundManifest,
			Sprite:   defaultSpriteManifest,
		},
		Content: Content{
			HashAlgorithm:         defaultHashAlgorithm,
			ThumbnailMaxDimension: defaultThumbnailMaxDimension,
			Tags:                  []string{defaultTag},
		},
		Crawl: Crawl{
			Origin:                 defaultOrigin,
			Workers:                defaultCrawlWorkers,
			RequestTimeoutSeconds:  defaultRequestTimeoutSeconds,
			MaxRetries:             defaultMaxRetries,
			RetryBackoffMillis:     defaultRetryBackoffMillis,
			VerifyHash:             true,
			BreakerThreshold:       defaultBreakerThreshold,
			BreakerCooldownSeconds: defaultBreakerCooldown,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
