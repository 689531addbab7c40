package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/birbparty/taobao-top/sdk"
)

type itemResult struct {
	Item struct {
		NumIID int64  `json:"num_iid"`
		Title  string `json:"title"`
		Price  string `json:"price"`
	} `json:"item"`
}

func main() {
	// Point TOP_DOMAIN at cmd/topgateway to try this without real credentials
	domain := os.Getenv("TOP_DOMAIN")
	if domain == "" {
		domain = "http://localhost:8080"
	}

	config := sdk.DefaultConfig().
		WithCredentials(os.Getenv("TOP_APP_KEY"), os.Getenv("TOP_APP_SECRET")).
		WithDomain(domain).
		WithRetryCount(3)

	client, err := sdk.NewClient(config)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Example 1: gateway clock
	fmt.Println("--- Example 1: taobao.time.get ---")
	now, err := client.ServerTime(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to get server time: %v", err)
	}
	fmt.Printf("Server time: %s (local clock off by %s)\n", now.Format(sdk.TimestampLayout), time.Since(now).Round(time.Second))

	// Example 2: short method names
	fmt.Println("\n--- Example 2: dynamic call ---")
	resp, err := client.Call(ctx, "time_get", nil)
	if err != nil {
		log.Fatalf("Call failed: %v", err)
	}
	fmt.Printf("Result section: %v\n", resp.Result("taobao.time.get"))

	// Example 3: typed results and error handling
	fmt.Println("\n--- Example 3: typed call ---")
	itemGet := sdk.NewTypedCall[itemResult](client, "taobao.item.get")
	item, err := itemGet.Do(ctx, sdk.Params{"num_iid": 520000, "fields": "num_iid,title,price"})

	var apiErr *sdk.APIError
	switch {
	case errors.As(err, &apiErr):
		fmt.Printf("Remote error after %d attempt(s): code=%d sub_code=%q request_id=%s\n",
			apiErr.Attempts, apiErr.Code, apiErr.SubCode, apiErr.RequestID)
	case err != nil:
		log.Fatalf("Call failed: %v", err)
	default:
		fmt.Printf("Item %d: %s (%s)\n", item.Item.NumIID, item.Item.Title, item.Item.Price)
	}
}
