//go:build !nodnssec

package authority

// DNSSECSupported reports whether zone signing is compiled in.
const DNSSECSupported = true
