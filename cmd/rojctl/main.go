package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type apiClient struct {
	baseURL  string
	password string
	http     *http.Client
}

func newAPIClient() *apiClient {
	baseURL := os.Getenv("ROJ_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &apiClient{
		baseURL:  baseURL,
		password: os.Getenv("ROJ_API_PASSWORD"),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.password != "" {
		req.SetBasicAuth("", c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("api returned %s", resp.Status)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  rojctl status")
	fmt.Fprintln(os.Stderr, "  rojctl agents")
	fmt.Fprintln(os.Stderr, "  rojctl tasks")
	fmt.Fprintln(os.Stderr, `  rojctl submit --type "..." --payload '{...}' [--priority low|medium|high|critical] [--preferred <agent-type>]`)
	fmt.Fprintln(os.Stderr, "  rojctl decisions")
	fmt.Fprintln(os.Stderr, `  rojctl schedule create --name "..." --schedule "..." --type "..." --payload '{...}'`)
	fmt.Fprintln(os.Stderr, "  rojctl schedule list")
	fmt.Fprintln(os.Stderr, `  rojctl schedule delete --id "..."`)
	fmt.Fprintln(os.Stderr, "  rojctl maintenance enter|leave")
	fmt.Fprintln(os.Stderr, "\nEnvironment:")
	fmt.Fprintln(os.Stderr, "  ROJ_API_URL       Gateway address (default http://localhost:8080)")
	fmt.Fprintln(os.Stderr, "  ROJ_API_PASSWORD  API password, if the gateway has auth enabled")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	client := newAPIClient()
	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "status":
		runStatus(client)
	case "agents":
		runAgents(client)
	case "tasks":
		runTasks(client)
	case "submit":
		runSubmit(client, parseArgs(rest))
	case "decisions":
		runDecisions(client)
	case "schedule":
		if len(rest) == 0 {
			usage()
		}
		runSchedule(client, rest[0], parseArgs(rest[1:]))
	case "maintenance":
		if len(rest) == 0 {
			usage()
		}
		runMaintenance(client, rest[0])
	default:
		fatal("unknown command: %s", command)
	}
}

func runStatus(client *apiClient) {
	var status map[string]any
	if err := client.do("GET", "/api/status", nil, &status); err != nil {
		fatal("%v", err)
	}
	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(out))
}

func runAgents(client *apiClient) {
	var resp struct {
		Agents []struct {
			ID           string   `json:"id"`
			Type         string   `json:"type"`
			Status       string   `json:"status"`
			Performance  float64  `json:"performance_score"`
			CurrentTasks []string `json:"current_tasks"`
		} `json:"agents"`
	}
	if err := client.do("GET", "/api/agents", nil, &resp); err != nil {
		fatal("%v", err)
	}
	if len(resp.Agents) == 0 {
		fmt.Println("No agents registered.")
		return
	}
	for _, a := range resp.Agents {
		fmt.Printf("  %s  %-10s %-8s perf=%.2f load=%d\n", a.ID, a.Type, a.Status, a.Performance, len(a.CurrentTasks))
	}
}

func runTasks(client *apiClient) {
	var resp struct {
		Tasks []struct {
			ID       string    `json:"id"`
			Type     string    `json:"type"`
			Status   string    `json:"status"`
			Deadline time.Time `json:"deadline"`
		} `json:"tasks"`
	}
	if err := client.do("GET", "/api/tasks", nil, &resp); err != nil {
		fatal("%v", err)
	}
	if len(resp.Tasks) == 0 {
		fmt.Println("No active tasks.")
		return
	}
	for _, t := range resp.Tasks {
		fmt.Printf("  %s  %-12s %-20s deadline=%s\n", t.ID, t.Status, t.Type, t.Deadline.Format(time.RFC3339))
	}
}

func runSubmit(client *apiClient, args map[string]string) {
	if args["type"] == "" || args["payload"] == "" {
		fatal("--type and --payload are required")
	}
	if !json.Valid([]byte(args["payload"])) {
		fatal("--payload must be valid JSON")
	}

	body := map[string]any{
		"type":    args["type"],
		"payload": json.RawMessage(args["payload"]),
	}
	if args["priority"] != "" {
		body["priority"] = args["priority"]
	}
	if args["preferred"] != "" {
		body["preferred"] = args["preferred"]
	}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := client.do("POST", "/api/tasks", body, &resp); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Task submitted: %s\n", resp.TaskID)
}

func runDecisions(client *apiClient) {
	var resp struct {
		Decisions []struct {
			ID         string  `json:"id"`
			Action     string  `json:"action"`
			Confidence float64 `json:"confidence"`
		} `json:"decisions"`
	}
	if err := client.do("GET", "/api/decisions", nil, &resp); err != nil {
		fatal("%v", err)
	}
	if len(resp.Decisions) == 0 {
		fmt.Println("No decisions recorded.")
		return
	}
	for _, d := range resp.Decisions {
		fmt.Printf("  %s  %-8s confidence=%.2f\n", d.ID, d.Action, d.Confidence)
	}
}

func runSchedule(client *apiClient, subcommand string, args map[string]string) {
	switch subcommand {
	case "create":
		if args["name"] == "" || args["schedule"] == "" || args["type"] == "" {
			fatal("--name, --schedule, and --type are required")
		}
		body := map[string]string{
			"name":      args["name"],
			"schedule":  args["schedule"],
			"task_type": args["type"],
			"priority":  args["priority"],
			"payload":   args["payload"],
		}
		var resp struct {
			ID string `json:"id"`
		}
		if err := client.do("POST", "/api/schedules", body, &resp); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Schedule created: %s\n", resp.ID)

	case "list":
		var resp struct {
			Schedules []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Schedule string `json:"schedule"`
				Status   string `json:"status"`
			} `json:"schedules"`
		}
		if err := client.do("GET", "/api/schedules", nil, &resp); err != nil {
			fatal("%v", err)
		}
		if len(resp.Schedules) == 0 {
			fmt.Println("No schedules found.")
			return
		}
		for _, s := range resp.Schedules {
			fmt.Printf("  %s  %-8s %s  [%s]\n", s.ID, s.Status, s.Name, s.Schedule)
		}

	case "delete":
		if args["id"] == "" {
			fatal("--id is required")
		}
		if err := client.do("DELETE", "/api/schedules/"+args["id"], nil, nil); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Schedule deleted.")

	default:
		usage()
	}
}

func runMaintenance(client *apiClient, subcommand string) {
	switch subcommand {
	case "enter", "leave":
		var resp struct {
			State string `json:"state"`
		}
		if err := client.do("POST", "/api/maintenance/"+subcommand, nil, &resp); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Swarm state: %s\n", resp.State)
	default:
		usage()
	}
}
