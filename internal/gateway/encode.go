package gateway

import (
	"net/url"
	"strings"

	"github.com/paymentsys/txnengine/internal/interfaces"
)

// encodeOrdered builds a query string preserving parameter order.
// url.Values.Encode sorts keys, which would move the signature away from the
// last position.
func encodeOrdered(params []interfaces.Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}
