package eduauth

import "context"

type clientIPContextKey struct{}
type deviceInfoContextKey struct{}

// WithClientIP attaches the caller’s IP address to ctx. The Gateway uses it
// for per-IP rate limiting and audit logging, and stores a hash of it on
// the session record.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithDeviceInfo attaches a free-form device description (typically the
// HTTP User-Agent) to ctx. It is recorded on the session at login so
// operators can correlate revocations with devices.
func WithDeviceInfo(ctx context.Context, info string) context.Context {
	return context.WithValue(ctx, deviceInfoContextKey{}, info)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func deviceInfoFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	info, _ := ctx.Value(deviceInfoContextKey{}).(string)
	return info
}
