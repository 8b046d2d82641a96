package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/valkey-io/valkey-go"
	"github.com/vmihailenco/msgpack/v5"
)

// scanBatch is the COUNT hint used when scanning keys to clear.
const scanBatch = 100

// ValkeyBackend stores msgpack-encoded posts in Valkey under
// post:<namespace>:<id>. Entries never expire.
type ValkeyBackend struct {
	client    valkey.Client
	namespace string
}

// DialValkey creates a Valkey client for address.
func DialValkey(address string, tlsEnabled bool) (valkey.Client, error) {
	var tlsConfig *tls.Config // nil by default
	if tlsEnabled {
		tlsConfig = &tls.Config{}
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{address},
		TLSConfig:   tlsConfig,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create valkey client")
	}
	return client, nil
}

// NewValkeyBackend creates a backend on client, namespaced so several sources
// can share one server.
func NewValkeyBackend(client valkey.Client, namespace string) *ValkeyBackend {
	return &ValkeyBackend{client: client, namespace: namespace}
}

func (v *ValkeyBackend) key(id string) string {
	return fmt.Sprintf("post:%s:%s", v.namespace, id)
}

// globEscaper quotes the characters SCAN MATCH treats as wildcards.
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func (v *ValkeyBackend) pattern() string {
	return fmt.Sprintf("post:%s:*", globEscaper.Replace(v.namespace))
}

// Read returns the cached post for id or nil if absent.
func (v *ValkeyBackend) Read(id string) (*api.Post, error) {
	cmd := v.client.B().Get().Key(v.key(id)).Build()
	resp := v.client.Do(context.Background(), cmd)
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to execute get command")
	}

	bytes, err := resp.AsBytes()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert response to bytes")
	}

	return decodePost(bytes)
}

// Write stores the post without expiry.
func (v *ValkeyBackend) Write(post *api.Post) error {
	bytes, err := encodePost(post)
	if err != nil {
		return err
	}

	cmd := v.client.B().Set().Key(v.key(post.ID)).Value(valkey.BinaryString(bytes)).Build()
	if err := v.client.Do(context.Background(), cmd).Error(); err != nil {
		return errors.Wrap(err, "failed to set key")
	}
	return nil
}

// Delete removes the entry for id.
func (v *ValkeyBackend) Delete(id string) error {
	cmd := v.client.B().Del().Key(v.key(id)).Build()
	if err := v.client.Do(context.Background(), cmd).Error(); err != nil {
		return errors.Wrap(err, "failed to delete key")
	}
	return nil
}

// Clear scans the namespace and deletes every post key in it.
func (v *ValkeyBackend) Clear() error {
	var cursor uint64
	for {
		cmd := v.client.B().Scan().Cursor(cursor).Match(v.pattern()).Count(scanBatch).Build()
		resp := v.client.Do(context.Background(), cmd)
		if err := resp.Error(); err != nil {
			return errors.Wrap(err, "failed to execute scan command")
		}

		res, err := resp.ToArray()
		if err != nil {
			return errors.Wrap(err, "failed to convert response to array")
		}
		if len(res) < 2 {
			return errors.New("invalid scan response format")
		}

		cursor, err = res[0].AsUint64()
		if err != nil {
			return errors.Wrap(err, "failed to parse cursor")
		}

		keys, err := res[1].AsStrSlice()
		if err != nil {
			return errors.Wrap(err, "failed to parse keys")
		}

		if len(keys) > 0 {
			del := v.client.B().Del().Key(keys...).Build()
			if err := v.client.Do(context.Background(), del).Error(); err != nil {
				return errors.Wrap(err, "failed to delete keys")
			}
		}

		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the underlying client.
func (v *ValkeyBackend) Close() {
	v.client.Close()
}

func encodePost(post *api.Post) ([]byte, error) {
	bytes, err := msgpack.Marshal(post)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal post")
	}
	return bytes, nil
}

func decodePost(bytes []byte) (*api.Post, error) {
	var post api.Post
	if err := msgpack.Unmarshal(bytes, &post); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal post")
	}
	return &post, nil
}
