package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"

	// Bright variants for more color variety
	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"

	Red       = "\033[31m"
	BrightRed = "\033[91m"
)

// Store log prefixes
const (
	LogStoreInit   = Blue + "[Store:Init]" + Reset
	LogStore       = Blue + "[Store]" + Reset
	LogStoreBackup = Blue + "[Store:Backup]" + Reset
	LogStoreIndex  = Blue + "[Store:Index]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// accountColors are the colors used for account ids (rotating based on hash)
var accountColors = []string{
	Green, Blue, Purple, Cyan, Red,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan, BrightRed,
}

// Account returns a colored account id for log messages.
// Same account always gets the same color.
func Account(id string) string {
	hash := 0
	for _, c := range id {
		hash += int(c)
	}
	color := accountColors[hash%len(accountColors)]
	return color + id + Reset
}

// Server/Init log prefixes
const (
	LogServer = Green + "[Server]" + Reset
	LogConfig = Cyan + "[Config]" + Reset
	LogStats  = Blue + "[Stats]" + Reset
	LogAdmin  = Purple + "[Admin]" + Reset
)

// Resolution log prefixes
const (
	LogRequest  = Purple + "[Request]" + Reset
	LogLookup   = Blue + "[Lookup]" + Reset
	LogPrivacy  = Purple + "[Privacy]" + Reset
	LogResolver = Cyan + "[Resolver]" + Reset
	LogFallback = Cyan + "[Fallback]" + Reset
	LogSpotify  = Green + "[Spotify]" + Reset
	LogHTTP     = Cyan + "[HTTP]" + Reset
	LogToken    = Cyan + "[Token]" + Reset
)
