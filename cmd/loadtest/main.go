package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for seeding")
	stock := flag.Int("stock", 10, "initial stock of the seeded product")

	// 超卖测试参数：200 个用户并发抢 10 份
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	firstUser := flag.Int64("first-user", 10000, "first user id; users are first-user .. first-user+users-1")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 0) 建商品（限量库存）
	var product struct {
		ID uint `json:"id"`
	}
	err := call(client, http.MethodPost, *baseURL+"/api/products", map[string]any{
		"name": fmt.Sprintf("loadtest-%d", time.Now().Unix()), "price": "9.90",
		"inventory": map[string]any{"quantity": *stock, "auto_disable_on_zero": false},
	}, map[string]string{"X-Admin-Token": *adminToken}, &product)
	if err != nil {
		panic(fmt.Sprintf("seed product failed: %v", err))
	}
	fmt.Printf("seeded product=%d stock=%d\n", product.ID, *stock)

	// 1) 每个用户准备地址和购物车
	addrs := prepareUsers(client, *baseURL, product.ID, *firstUser, *nUsers, *concurrency)

	// 2) 不超卖测试：不同 user 并发下单
	fmt.Printf("start oversell test: product=%d users=%d concurrency=%d\n", product.ID, *nUsers, *concurrency)
	results := runCheckout(client, *baseURL, *firstUser, addrs, *concurrency)
	printSummary("oversell", results)

	left, err := getStock(client, *baseURL, product.ID)
	if err != nil {
		fmt.Println("stock check err:", err)
	} else {
		sold := count(results, http.StatusCreated)
		fmt.Printf("final stock: %d, orders created: %d\n", left, sold)
		if left < 0 || sold+left != *stock {
			fmt.Println("!!! stock mismatch")
		}
	}

	// 3) 幂等测试：同一个 user、同一个 Idempotency-Key 并发重放，只应建出一单
	uid := *firstUser + int64(*nUsers)
	addr := prepareUsers(client, *baseURL, product.ID, uid, 1, 1)[0]
	fmt.Printf("\nstart idempotency test: same user (%d), 20 requests, concurrency 20\n", uid)
	results2 := runSameKey(client, *baseURL, uid, addr, "loadtest-"+strconv.FormatInt(time.Now().UnixNano(), 36), 20, 20)
	printSummary("idempotency", results2)
}

// prepareUsers 为每个用户建地址并加购 1 份，返回地址 ID。失败的用户地址为 0。
func prepareUsers(client *http.Client, baseURL string, productID uint, firstUser int64, nUsers int, concurrency int) []uint {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	addrs := make([]uint, nUsers)

	for i := 0; i < nUsers; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			headers := userHeader(firstUser + int64(idx))
			var addr struct {
				ID uint `json:"id"`
			}
			if err := call(client, http.MethodPost, baseURL+"/api/addresses", map[string]string{
				"city": "Loadtest", "street": fmt.Sprintf("%d Bench St", idx),
			}, headers, &addr); err != nil {
				fmt.Println("prepare address err:", err)
				return
			}
			if err := call(client, http.MethodPost, baseURL+"/api/cart/items", map[string]any{
				"product_id": productID, "quantity": 1,
			}, headers, nil); err != nil {
				fmt.Println("prepare cart err:", err)
				return
			}
			addrs[idx] = addr.ID
		}(i)
	}

	wg.Wait()
	return addrs
}

func runCheckout(client *http.Client, baseURL string, firstUser int64, addrs []uint, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, len(addrs))

	for i := range addrs {
		if addrs[i] == 0 {
			results[i] = Result{Err: fmt.Errorf("user %d not prepared", firstUser+int64(i))}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = checkoutOnce(client, baseURL, firstUser+int64(idx), addrs[idx], "")
		}(i)
	}

	wg.Wait()
	return results
}

func runSameKey(client *http.Client, baseURL string, userID int64, addressID uint, key string, total int, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = checkoutOnce(client, baseURL, userID, addressID, key)
		}(i)
	}

	wg.Wait()
	return results
}

func checkoutOnce(client *http.Client, baseURL string, userID int64, addressID uint, idemKey string) Result {
	b, _ := json.Marshal(map[string]any{"address_id": addressID})
	httpReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/orders", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	if idemKey != "" {
		httpReq.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	codes := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		codes[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 201, 400, 404, 409, 429, 500} {
		if codes[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, codes[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func count(results []Result, status int) int {
	n := 0
	for _, r := range results {
		if r.Err == nil && r.Status == status {
			n++
		}
	}
	return n
}

func userHeader(userID int64) map[string]string {
	return map[string]string{"X-User-ID": strconv.FormatInt(userID, 10)}
}

// call 发送 JSON 请求（支持附加请求头），out 非空时解析响应里的 data。
func call(client *http.Client, method, url string, body any, headers map[string]string, out any) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, out)
}

// getStock 查询当前库存，用于压测后校验是否出现超卖。
func getStock(client *http.Client, baseURL string, productID uint) (int, error) {
	var out struct {
		Inventory struct {
			Quantity int `json:"quantity"`
		} `json:"inventory"`
	}
	if err := call(client, http.MethodGet, fmt.Sprintf("%s/api/inventory/%d", baseURL, productID), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Inventory.Quantity, nil
}
