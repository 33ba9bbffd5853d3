package storage

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Drivers accepted by NewClientFactory.
const (
	DriverMinio = "minio"
	DriverS3    = "s3"
)

// Profile is the connection profile for the object store.
type Profile struct {
	Driver    string
	Endpoint  string // host name, without scheme or port
	Port      int
	UseSSL    bool
	AccessKey string
	SecretKey string
	Region    string
	PathStyle bool
	PartSize  uint64
}

// HostPort returns "host:port", or just the host when no port is configured.
func (p Profile) HostPort() string {
	if p.Port == 0 {
		return p.Endpoint
	}
	return net.JoinHostPort(p.Endpoint, strconv.Itoa(p.Port))
}

// URL returns the endpoint with its scheme, e.g. "http://localhost:9000".
func (p Profile) URL() string {
	if p.Endpoint == "" {
		return ""
	}
	scheme := "http"
	if p.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + p.HostPort()
}

// NewClientFactory builds the process-wide driver for p and returns a factory
// handing out copies of it configured with different part sizes. The base
// client (configured with p.PartSize) is returned alongside for operations
// that do not upload.
func NewClientFactory(ctx context.Context, p Profile) (ClientFactory, Client, error) {
	switch p.Driver {
	case DriverMinio, "":
		base, err := NewMinioClient(p)
		if err != nil {
			return nil, nil, err
		}
		factory := func(partSize uint64) (Client, error) {
			return base.WithPartSize(partSize), nil
		}
		return factory, base, nil
	case DriverS3:
		base, err := NewS3Client(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		factory := func(partSize uint64) (Client, error) {
			return base.WithPartSize(partSize), nil
		}
		return factory, base, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", p.Driver)
	}
}
