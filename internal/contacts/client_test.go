package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// staticTokens is an AccessTokenSource returning a fixed token.
type staticTokens string

// AccessToken returns the fixed token.
func (s staticTokens) AccessToken(_ context.Context) (string, error) {
	return string(s), nil
}

// failingTokens is an AccessTokenSource that always fails.
type failingTokens struct{ err error }

// AccessToken returns the configured error.
func (f failingTokens) AccessToken(_ context.Context) (string, error) {
	return "", f.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithBaseURL(server.URL), WithHTTPClient(server.Client())}, opts...)
	client, err := NewClient(Config{Tokens: staticTokens("access-token")}, opts...)
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		config  Config
		opts    []Option
		wantErr bool
		errMsg  string
	}{
		"valid config": {
			config: Config{Tokens: staticTokens("t")},
		},
		"missing token source": {
			config:  Config{},
			wantErr: true,
			errMsg:  "token source is required",
		},
		"invalid option - empty base URL": {
			config:  Config{Tokens: staticTokens("t")},
			opts:    []Option{WithBaseURL("  ")},
			wantErr: true,
			errMsg:  "base URL cannot be empty",
		},
		"invalid option - zero max members": {
			config:  Config{Tokens: staticTokens("t")},
			opts:    []Option{WithMaxMembers(0)},
			wantErr: true,
			errMsg:  "max members must be positive",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(tc.config, tc.opts...)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, client)
			} else {
				require.NoError(t, err)
				require.NotNil(t, client)
				require.Equal(t, defaultBaseURL, client.baseURL)
				require.Equal(t, defaultMaxMembers, client.maxMembers)
			}
		})
	}
}

func TestClient_EnsureGroup(t *testing.T) {
	t.Parallel()

	t.Run("finds existing group across pages", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			require.Equal(t, "/contactGroups", r.URL.Path)
			require.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))

			if r.URL.Query().Get("pageToken") == "" {
				writeJSON(t, w, listContactGroupsResponse{
					ContactGroups: []ContactGroup{
						{ResourceName: "contactGroups/myContacts", Name: "Donors", GroupType: "SYSTEM_CONTACT_GROUP"},
					},
					NextPageToken: "page-2",
				})
				return
			}
			writeJSON(t, w, listContactGroupsResponse{
				ContactGroups: []ContactGroup{
					{ResourceName: "contactGroups/abc", Name: "Donors", GroupType: GroupTypeUser},
				},
			})
		})

		group, err := client.EnsureGroup(context.Background(), "Donors")

		require.NoError(t, err)
		require.Equal(t, "contactGroups/abc", group.ResourceName)
	})

	t.Run("creates group when absent", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				writeJSON(t, w, listContactGroupsResponse{})
			case http.MethodPost:
				var req createContactGroupRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, "Donors", req.ContactGroup.Name)
				writeJSON(t, w, ContactGroup{ResourceName: "contactGroups/new", Name: "Donors", GroupType: GroupTypeUser})
			default:
				t.Errorf("unexpected method %s", r.Method)
			}
		})

		group, err := client.EnsureGroup(context.Background(), "Donors")

		require.NoError(t, err)
		require.Equal(t, "contactGroups/new", group.ResourceName)
	})

	t.Run("find returns nil when absent", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			writeJSON(t, w, listContactGroupsResponse{
				ContactGroups: []ContactGroup{{ResourceName: "contactGroups/x", Name: "Other", GroupType: GroupTypeUser}},
			})
		})

		group, err := client.FindGroup(context.Background(), "Donors")

		require.NoError(t, err)
		require.Nil(t, group)
	})

	t.Run("empty name", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
			t.Error("no request expected")
		})

		_, err := client.EnsureGroup(context.Background(), " ")

		require.ErrorContains(t, err, "group name is required")
	})
}

func TestClient_GroupMembers(t *testing.T) {
	t.Parallel()

	const members = 250
	var batches atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/contactGroups/abc":
			require.Equal(t, "5000", r.URL.Query().Get("maxMembers"))
			names := make([]string, members)
			for i := range names {
				names[i] = fmt.Sprintf("people/c%d", i)
			}
			writeJSON(t, w, ContactGroup{ResourceName: "contactGroups/abc", MemberResourceNames: names})

		case r.URL.Path == "/people:batchGet":
			batches.Add(1)
			q := r.URL.Query()
			require.Equal(t, personFields, q.Get("personFields"))
			require.LessOrEqual(t, len(q["resourceNames"]), batchGetLimit)

			var resp batchGetResponse
			for _, rn := range q["resourceNames"] {
				person := &Person{ResourceName: rn}
				if rn == "people/c7" {
					person.Metadata = &PersonMetadata{Deleted: true}
				}
				resp.Responses = append(resp.Responses, personResponse{Person: person, RequestedResourceName: rn})
			}
			writeJSON(t, w, resp)

		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, WithMaxMembers(5000))

	people, err := client.GroupMembers(context.Background(), "contactGroups/abc")

	require.NoError(t, err)
	require.Len(t, people, members-1)
	require.Equal(t, int32(2), batches.Load())
}

func TestClient_GroupMembers_TruncatedGroup(t *testing.T) {
	t.Parallel()

	var batches atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contactGroups/abc":
			writeJSON(t, w, ContactGroup{
				MemberCount:         5,
				MemberResourceNames: []string{"people/c1", "people/c2", "people/c3"},
				ResourceName:        "contactGroups/abc",
			})
		default:
			batches.Add(1)
			writeJSON(t, w, batchGetResponse{})
		}
	}, WithMaxMembers(3))

	people, err := client.GroupMembers(context.Background(), "contactGroups/abc")

	require.ErrorContains(t, err, "group has 5 members but only 3 were listed")
	require.Nil(t, people)
	require.Zero(t, batches.Load())
}

func TestClient_GroupMembers_BatchEntryStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		status  int
		person  bool
		wantErr error
		errMsg  string
		want    int
	}{
		"ok entry": {
			status: http.StatusOK,
			person: true,
			want:   2,
		},
		"not found entry is skipped": {
			status: http.StatusNotFound,
			want:   1,
		},
		"rate limited entry fails the listing": {
			status:  http.StatusTooManyRequests,
			wantErr: ErrRateLimited,
			errMsg:  "fetching person people/c2",
		},
		"server error entry fails the listing": {
			status: http.StatusInternalServerError,
			errMsg: "unexpected status 500",
		},
		"ok entry without person fails the listing": {
			status: http.StatusOK,
			errMsg: "response has no person",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/contactGroups/abc":
					writeJSON(t, w, ContactGroup{
						MemberCount:         2,
						MemberResourceNames: []string{"people/c1", "people/c2"},
						ResourceName:        "contactGroups/abc",
					})
				case "/people:batchGet":
					second := personResponse{HTTPStatusCode: tc.status, RequestedResourceName: "people/c2"}
					if tc.person {
						second.Person = &Person{ResourceName: "people/c2"}
					}
					writeJSON(t, w, batchGetResponse{Responses: []personResponse{
						{HTTPStatusCode: http.StatusOK, Person: &Person{ResourceName: "people/c1"}, RequestedResourceName: "people/c1"},
						second,
					}})
				default:
					t.Errorf("unexpected path %s", r.URL.Path)
				}
			})

			people, err := client.GroupMembers(context.Background(), "contactGroups/abc")

			if tc.errMsg != "" {
				require.ErrorContains(t, err, tc.errMsg)
				if tc.wantErr != nil {
					require.ErrorIs(t, err, tc.wantErr)
				}
				require.Nil(t, people)
				return
			}
			require.NoError(t, err)
			require.Len(t, people, tc.want)
		})
	}
}

func TestAPIError_TruncatesBody(t *testing.T) {
	t.Parallel()

	err := &APIError{Body: strings.Repeat("x", 5000), StatusCode: http.StatusTooManyRequests}

	msg := err.Error()

	require.Len(t, msg, len("unexpected status 429: ")+maxErrorBodyLength+len("..."))
	require.Len(t, err.Body, 5000)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestClient_CreateContact(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/people:createContact", r.URL.Path)

		var person Person
		require.NoError(t, json.NewDecoder(r.Body).Decode(&person))
		require.Equal(t, "Ada", person.Names[0].GivenName)

		person.ResourceName = "people/c1"
		person.ETag = "etag-1"
		writeJSON(t, w, person)
	})

	created, err := client.CreateContact(context.Background(), &Person{Names: []Name{{GivenName: "Ada"}}})

	require.NoError(t, err)
	require.Equal(t, "people/c1", created.ResourceName)
	require.Equal(t, "etag-1", created.ETag)
}

func TestClient_UpdateContact(t *testing.T) {
	t.Parallel()

	t.Run("sends mask and etag", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPatch, r.Method)
			require.Equal(t, "/people/c1:updateContact", r.URL.Path)
			require.Equal(t, "names,emailAddresses", r.URL.Query().Get("updatePersonFields"))

			var person Person
			require.NoError(t, json.NewDecoder(r.Body).Decode(&person))
			require.Equal(t, "etag-1", person.ETag)

			person.ETag = "etag-2"
			writeJSON(t, w, person)
		})

		updated, err := client.UpdateContact(context.Background(), &Person{ResourceName: "people/c1", ETag: "etag-1"}, "names,emailAddresses")

		require.NoError(t, err)
		require.Equal(t, "etag-2", updated.ETag)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
			t.Error("no request expected")
		})

		_, err := client.UpdateContact(context.Background(), &Person{}, "names")
		require.ErrorContains(t, err, "resource name is required")

		_, err = client.UpdateContact(context.Background(), &Person{ResourceName: "people/c1"}, "")
		require.ErrorContains(t, err, "update fields are required")
	})
}

func TestClient_MutationErrorsAreUnwrapped(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	})

	_, err := client.CreateContact(context.Background(), &Person{})
	require.EqualError(t, err, "unexpected status 429: quota\n")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = client.UpdateContact(context.Background(), &Person{ResourceName: "people/c1"}, "names")
	require.EqualError(t, err, "unexpected status 429: quota\n")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		status int
		want   error
	}{
		"not found":    {status: http.StatusNotFound, want: ErrNotFound},
		"rate limited": {status: http.StatusTooManyRequests, want: ErrRateLimited},
		"unauthorized": {status: http.StatusUnauthorized, want: ErrUnauthorized},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":{"status":"X"}}`, tc.status)
			})

			_, err := client.ContactGroup(context.Background(), "contactGroups/abc")

			require.ErrorIs(t, err, tc.want)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tc.status, apiErr.StatusCode)
			require.True(t, strings.Contains(apiErr.Body, "error"))
		})
	}
}

func TestClient_TokenFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Tokens: failingTokens{err: ErrUnauthorized}}, WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = client.ContactGroup(context.Background(), "contactGroups/abc")

	require.ErrorIs(t, err, ErrUnauthorized)
}
