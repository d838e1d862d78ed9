package wsession

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

type (
	// OpenConnectionParams is what a transport needs to dial. It is resolved on every dial so
	// short-lived credentials can be refreshed between reconnects.
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger.WithField("repo", "open_conn_params")}
}

// StaticOpenConnectionParams always resolves to rawURL with a copy of header.
func StaticOpenConnectionParams(rawURL string, header http.Header) (OpenConnectionParamsGetter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse url %q", rawURL)
	}

	return func(context.Context) (OpenConnectionParams, error) {
		return OpenConnectionParams{URL: *u, Header: header.Clone()}, nil
	}, nil
}
