package identity

import (
	"context"
	"crypto/x509"
	"net"
	"net/url"

	"github.com/samber/lo"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// PeerIdentity returns the name on the client certificate the transport verified for this call,
// or "" when the peer presented none.
func PeerIdentity(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.AuthInfo == nil {
		return ""
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return ""
	}
	chains := tlsInfo.State.VerifiedChains
	if len(chains) == 0 || len(chains[0]) == 0 {
		return ""
	}
	return certificateIdentity(chains[0][0])
}

// certificateIdentity is the first subject alternative name of cert (DNS, then URI, then email,
// then IP), falling back to its common name.
func certificateIdentity(cert *x509.Certificate) string {
	names := lo.Flatten([][]string{
		cert.DNSNames,
		lo.Map(cert.URIs, func(u *url.URL, _ int) string { return u.String() }),
		cert.EmailAddresses,
		lo.Map(cert.IPAddresses, func(ip net.IP, _ int) string { return ip.String() }),
	})
	return lo.FirstOr(lo.Compact(names), cert.Subject.CommonName)
}
