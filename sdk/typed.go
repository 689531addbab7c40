package sdk

import (
	"context"
	"fmt"
	"time"
)

// TypedCall decodes the result of one remote method into T.
// It uses Go generics so callers get their own result struct back without
// walking the untyped Response map.
//
// Example:
//
//	type ItemResult struct {
//	    Item struct {
//	        NumIID json.Number `json:"num_iid"`
//	        Title  string      `json:"title"`
//	    } `json:"item"`
//	}
//
//	itemGet := sdk.NewTypedCall[ItemResult](client, "taobao.item.get")
//	res, err := itemGet.Do(ctx, sdk.Params{"num_iid": 520000, "fields": "num_iid,title"})
//	fmt.Println(res.Item.Title)
type TypedCall[T any] struct {
	client *Client
	method string
}

// NewTypedCall binds a qualified remote method to a result type.
func NewTypedCall[T any](client *Client, method string) *TypedCall[T] {
	return &TypedCall[T]{client: client, method: method}
}

// Method returns the remote method name
func (tc *TypedCall[T]) Method() string {
	return tc.method
}

// Do invokes the method and decodes its result section
func (tc *TypedCall[T]) Do(ctx context.Context, params Params) (*T, error) {
	resp, err := tc.client.Invoke(ctx, tc.method, params)
	if err != nil {
		return nil, err
	}
	var out T
	if err := resp.Decode(tc.method, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TimeGetResult is the result of taobao.time.get
type TimeGetResult struct {
	Time string `json:"time"`
}

// ServerTime calls taobao.time.get and returns the gateway clock. The
// gateway reports local time without a zone, so it is parsed in loc; nil
// means time.Local.
func (c *Client) ServerTime(ctx context.Context, loc *time.Location) (time.Time, error) {
	res, err := NewTypedCall[TimeGetResult](c, "taobao.time.get").Do(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(TimestampLayout, res.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid server time %q: %w", res.Time, err)
	}
	return t, nil
}
