package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"semsearch/internal/config"
	"semsearch/internal/server"
	"semsearch/internal/version"
)

func main() {
	_ = godotenv.Load()
	if err := config.LoadAndApply(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		addr := fs.String("addr", "", "listen address (default from SEMSEARCH_ADDR)")
		_ = fs.Parse(os.Args[2:])
		if err := server.Run(*addr); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version.String())
	case "embed":
		embedCmd(os.Args[2:])
	case "search":
		searchCmd(os.Args[2:])
	case "update":
		updateCmd(os.Args[2:])
	case "health":
		healthCmd()
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("semsearch - text embedding & nearest-neighbor search service")
	fmt.Println("usage:")
	fmt.Println("  semsearch serve [--addr :8091]")
	fmt.Println("  semsearch embed \"<text>\" [\"<text>\"...]")
	fmt.Println("  semsearch search \"<query>\" [--k 10]")
	fmt.Println("  semsearch update --id <id> \"<text>\"")
	fmt.Println("  semsearch health")
	fmt.Println("  semsearch version")
}

func serverURL() string {
	if v := os.Getenv("SEMSEARCH_SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:8091"
}

func httpClient() *http.Client { return &http.Client{Timeout: 60 * time.Second} }

func postJSON(path string, body any) ([]byte, int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL()+path, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := os.Getenv("SEMSEARCH_API_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return data, resp.StatusCode, err
}

func printResponse(data []byte, status int) {
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
	if status/100 != 2 {
		os.Exit(1)
	}
}

func embedCmd(args []string) {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	_ = fs.Parse(args)
	texts := fs.Args()
	if len(texts) == 0 {
		fmt.Fprintln(os.Stderr, "embed: at least one text required")
		os.Exit(1)
	}
	data, status, err := postJSON("/embed", map[string]any{"texts": texts})
	if err != nil {
		fmt.Fprintf(os.Stderr, "embed: %v\n", err)
		os.Exit(1)
	}
	printResponse(data, status)
}

func searchCmd(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	k := fs.Int("k", 10, "number of results")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "search: query required")
		os.Exit(1)
	}
	data, status, err := postJSON("/search", map[string]any{"query": fs.Arg(0), "top_k": *k})
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		os.Exit(1)
	}
	printResponse(data, status)
}

func updateCmd(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	id := fs.String("id", "", "item id")
	_ = fs.Parse(args)
	if *id == "" || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "update: --id and text required")
		os.Exit(1)
	}
	data, status, err := postJSON("/items/"+*id+"/embedding", map[string]any{"text": fs.Arg(0)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "update: %v\n", err)
		os.Exit(1)
	}
	printResponse(data, status)
}

func healthCmd() {
	resp, err := httpClient().Get(serverURL() + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	printResponse(data, resp.StatusCode)
}
