package ports

import "github.com/yessloyalty/authsession/core"

// ClaimsDecoder derives claims from an access token
type ClaimsDecoder interface {
	Decode(accessToken string) (*core.Claims, error)
}
