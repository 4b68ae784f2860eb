package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

// Connection holds the parsed form of a cloud connection string.
type Connection struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	PathStyle    bool
	DisableSSL   bool
}

// ParseConnectionString parses "Key=Value;Key=Value" pairs. Keys are matched
// case-insensitively; Region is required.
//
//	Endpoint=http://127.0.0.1:9000;Region=us-east-1;AccessKey=ak;SecretKey=sk;PathStyle=true
func ParseConnectionString(s string) (Connection, error) {
	var c Connection
	if strings.TrimSpace(s) == "" {
		return c, configErr("connection string is empty")
	}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return c, configErr("malformed pair %q", part)
		}
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		switch k {
		case "endpoint":
			c.Endpoint = v
		case "region":
			c.Region = v
		case "accesskey":
			c.AccessKey = v
		case "secretkey":
			c.SecretKey = v
		case "sessiontoken":
			c.SessionToken = v
		case "pathstyle", "disablessl":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return c, configErr("%s: %v", k, err)
			}
			if k == "pathstyle" {
				c.PathStyle = b
			} else {
				c.DisableSSL = b
			}
		default:
			return c, configErr("unknown key %q", k)
		}
	}
	if c.Region == "" {
		return c, configErr("region is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return c, configErr("access key and secret key must be set together")
	}
	return c, nil
}

// String renders the connection with the secret masked.
func (c Connection) String() string {
	secret := ""
	if c.SecretKey != "" {
		secret = "***"
	}
	return fmt.Sprintf("Endpoint=%s;Region=%s;AccessKey=%s;SecretKey=%s;PathStyle=%t;DisableSSL=%t",
		c.Endpoint, c.Region, c.AccessKey, secret, c.PathStyle, c.DisableSSL)
}

func configErr(format string, args ...any) error {
	return xerrors.Wrap(xerrors.KindConfiguration, "blob.ParseConnectionString", "", fmt.Errorf(format, args...))
}
