package contacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// batchGetLimit is the maximum number of resource names per people:batchGet call.
const batchGetLimit = 200

// AccessTokenSource provides bearer tokens for API requests.
type AccessTokenSource interface {
	// AccessToken returns a valid access token.
	AccessToken(ctx context.Context) (string, error)
}

// Client is a Google People API client scoped to one connected account.
type Client struct {
	// baseURL is the base URL for API requests.
	baseURL string

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// maxMembers caps the member resource names read from a group.
	maxMembers int

	// tokens provides bearer tokens.
	tokens AccessTokenSource
}

// Config holds the required configuration for creating a Client.
type Config struct {
	// Tokens provides bearer tokens for the connected account.
	Tokens AccessTokenSource
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Tokens == nil {
		errs = append(errs, errors.New("token source is required"))
	}
	return errors.Join(errs...)
}

// NewClient creates a new People API client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:    o.baseURL,
		httpClient: o.httpClient,
		maxMembers: o.maxMembers,
		tokens:     cfg.Tokens,
	}, nil
}

// ContactGroup fetches a contact group by resource name.
func (c *Client) ContactGroup(ctx context.Context, resourceName string) (*ContactGroup, error) {
	reqURL := fmt.Sprintf("%s/%s", c.baseURL, resourceName)

	var group ContactGroup
	if err := c.doRequest(ctx, http.MethodGet, reqURL, nil, &group); err != nil {
		return nil, fmt.Errorf("getting contact group: %w", err)
	}

	return &group, nil
}

// EnsureGroup returns the user contact group with the given name, creating it if absent.
func (c *Client) EnsureGroup(ctx context.Context, name string) (*ContactGroup, error) {
	group, err := c.FindGroup(ctx, name)
	if err != nil {
		return nil, err
	}
	if group != nil {
		return group, nil
	}

	var created ContactGroup
	body := createContactGroupRequest{ContactGroup: ContactGroup{Name: strings.TrimSpace(name)}}
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/contactGroups", body, &created); err != nil {
		return nil, fmt.Errorf("creating contact group: %w", err)
	}

	return &created, nil
}

// FindGroup returns the user contact group with the given name, or nil if none exists.
func (c *Client) FindGroup(ctx context.Context, name string) (*ContactGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("group name is required")
	}

	params := url.Values{}
	params.Set("pageSize", "1000")

	for {
		var page listContactGroupsResponse
		reqURL := fmt.Sprintf("%s/contactGroups?%s", c.baseURL, params.Encode())
		if err := c.doRequest(ctx, http.MethodGet, reqURL, nil, &page); err != nil {
			return nil, fmt.Errorf("listing contact groups: %w", err)
		}

		for i := range page.ContactGroups {
			group := page.ContactGroups[i]
			if group.GroupType == GroupTypeUser && group.Name == name {
				return &group, nil
			}
		}

		if page.NextPageToken == "" {
			return nil, nil
		}
		params.Set("pageToken", page.NextPageToken)
	}
}

// GroupMembers returns every person in the contact group.
// Members are fetched in batches; deleted persons are skipped. A group larger than the
// member limit, or a batch entry that failed for any reason other than not found, is an error,
// since callers treat an absent member as deleted.
func (c *Client) GroupMembers(ctx context.Context, groupResourceName string) ([]Person, error) {
	params := url.Values{}
	params.Set("maxMembers", strconv.Itoa(c.maxMembers))
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, groupResourceName, params.Encode())

	var group ContactGroup
	if err := c.doRequest(ctx, http.MethodGet, reqURL, nil, &group); err != nil {
		return nil, fmt.Errorf("getting group members: %w", err)
	}

	names := group.MemberResourceNames
	if len(names) < group.MemberCount {
		return nil, fmt.Errorf("group has %d members but only %d were listed (member limit %d)",
			group.MemberCount, len(names), c.maxMembers)
	}
	people := make([]Person, 0, len(names))

	for start := 0; start < len(names); start += batchGetLimit {
		end := min(start+batchGetLimit, len(names))

		batch := url.Values{}
		batch.Set("personFields", personFields)
		for _, rn := range names[start:end] {
			batch.Add("resourceNames", rn)
		}

		var result batchGetResponse
		reqURL := fmt.Sprintf("%s/people:batchGet?%s", c.baseURL, batch.Encode())
		if err := c.doRequest(ctx, http.MethodGet, reqURL, nil, &result); err != nil {
			return nil, fmt.Errorf("fetching people batch: %w", err)
		}

		for _, resp := range result.Responses {
			switch resp.HTTPStatusCode {
			case 0, http.StatusOK:
			case http.StatusNotFound:
				continue
			default:
				return nil, fmt.Errorf("fetching person %s: %w", resp.RequestedResourceName,
					&APIError{StatusCode: resp.HTTPStatusCode})
			}
			if resp.Person == nil {
				return nil, fmt.Errorf("fetching person %s: response has no person", resp.RequestedResourceName)
			}
			if resp.Person.Metadata != nil && resp.Person.Metadata.Deleted {
				continue
			}
			people = append(people, *resp.Person)
		}
	}

	return people, nil
}

// CreateContact creates a new contact and returns it as stored.
func (c *Client) CreateContact(ctx context.Context, person *Person) (*Person, error) {
	params := url.Values{}
	params.Set("personFields", personFields)
	reqURL := fmt.Sprintf("%s/people:createContact?%s", c.baseURL, params.Encode())

	var created Person
	if err := c.doRequest(ctx, http.MethodPost, reqURL, person, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// UpdateContact updates the listed fields of an existing contact and returns it as stored.
// The person must carry its resource name and current etag.
func (c *Client) UpdateContact(ctx context.Context, person *Person, updateFields string) (*Person, error) {
	if person == nil || person.ResourceName == "" {
		return nil, errors.New("person resource name is required")
	}
	if updateFields == "" {
		return nil, errors.New("update fields are required")
	}

	params := url.Values{}
	params.Set("personFields", personFields)
	params.Set("updatePersonFields", updateFields)
	reqURL := fmt.Sprintf("%s/%s:updateContact?%s", c.baseURL, person.ResourceName, params.Encode())

	var updated Person
	if err := c.doRequest(ctx, http.MethodPatch, reqURL, person, &updated); err != nil {
		return nil, err
	}

	return &updated, nil
}

// doRequest executes an HTTP request with authentication and JSON encoding.
func (c *Client) doRequest(ctx context.Context, method string, reqURL string, body any, result any) error {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("getting access token: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Body: string(respBody), StatusCode: resp.StatusCode}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
