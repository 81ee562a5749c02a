package cfkvstore

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/imroc/req/v3"

	"github.com/moonwalker/tuner/pkg/store"
)

const apiURLFmt = "https://api.cloudflare.com/client/v4/accounts/%s/storage/kv/namespaces/%s"

type Config struct {
	AccountID   string
	NamespaceID string
	Token       string
	// BaseURL overrides the api url built from AccountID and NamespaceID.
	BaseURL string
}

type kvstore struct {
	namespace string
	client    *req.Client
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type keysResponse struct {
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
	Result  []struct {
		Name string `json:"name"`
	} `json:"result"`
	ResultInfo struct {
		Cursor string `json:"cursor"`
	} `json:"result_info"`
}

func New(cfg Config) store.Store {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf(apiURLFmt, cfg.AccountID, cfg.NamespaceID)
	}
	return &kvstore{
		namespace: cfg.NamespaceID,
		client: req.C().
			SetBaseURL(baseURL).
			SetCommonBearerAuthToken(cfg.Token).
			SetTimeout(30 * time.Second),
	}
}

func (s *kvstore) Name() string {
	return "cfkv:" + s.namespace
}

func valuePath(key string) string {
	return "/values/" + url.PathEscape(key)
}

func (s *kvstore) Get(key string) ([]byte, error) {
	resp, err := s.client.R().Get(valuePath(key))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, store.ErrNotFound
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("cfkv get %q: %s", key, resp.Status)
	}
	return resp.Bytes(), nil
}

func (s *kvstore) Set(key string, value []byte, options *store.WriteOptions) error {
	r := s.client.R().
		EnableForceMultipart().
		SetFormData(map[string]string{
			"metadata": fmt.Sprintf(`{"timestamp": %q}`, time.Now().UTC().Format(time.RFC3339)),
			"value":    string(value),
		})
	if options != nil && options.TTL > 0 {
		r.SetQueryParam("expiration_ttl", fmt.Sprint(options.TTL))
	}

	resp, err := r.Put(valuePath(key))
	if err != nil {
		return err
	}
	if resp.IsErrorState() {
		return fmt.Errorf("cfkv put %q: %s", key, resp.Status)
	}
	return nil
}

func (s *kvstore) Delete(key string) error {
	resp, err := s.client.R().
		SetHeader("content-type", "application/json").
		Delete(valuePath(key))
	if err != nil {
		return err
	}
	if resp.IsErrorState() && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("cfkv delete %q: %s", key, resp.Status)
	}
	return nil
}

func (s *kvstore) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err == store.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// Scan pages through the key listing, which the api returns sorted.
func (s *kvstore) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	var (
		i      int
		cursor string
	)

	for {
		var out keysResponse
		r := s.client.R().SetSuccessResult(&out)
		if prefix != "" {
			r.SetQueryParam("prefix", prefix)
		}
		if cursor != "" {
			r.SetQueryParam("cursor", cursor)
		}

		resp, err := r.Get("/keys")
		if err != nil {
			return err
		}
		if resp.IsErrorState() || !out.Success {
			return fmt.Errorf("cfkv list keys: %s %v", resp.Status, out.Errors)
		}

		for _, k := range out.Result {
			inside, done := store.Window(i, skip, limit)
			i++
			if done {
				return nil
			}
			if !inside {
				continue
			}
			val, err := s.Get(k.Name)
			if err == store.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			fn(k.Name, val)
		}

		cursor = out.ResultInfo.Cursor
		if cursor == "" {
			return nil
		}
	}
}

func (s *kvstore) Close() error {
	return nil
}
