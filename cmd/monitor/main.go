package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// LogEntry matches the zap JSON structure emitted by the scheduler.
type LogEntry struct {
	Level    string  `json:"level"`
	Msg      string  `json:"msg"`
	TaskID   string  `json:"task_id"`
	Name     string  `json:"name"`
	Priority string  `json:"priority"`
	WorkerID string  `json:"worker_id"`
	Seconds  float64 `json:"execution_seconds"`
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

func main() {
	fmt.Println(colorCyan + "🚀 Task Scheduler Activity Monitor Starting..." + colorReset)
	fmt.Println(colorGray + "Listening for task lifecycle events from the scheduler service..." + colorReset)
	fmt.Println("-------------------------------------------------------------------------")

	cmd := exec.Command("docker", "compose", "logs", "-f", "--no-log-prefix", "scheduler")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fmt.Println(colorRed+"Failed to attach to logs:"+colorReset, err)
		return
	}
	if err := cmd.Start(); err != nil {
		fmt.Println(colorRed+"Failed to start docker compose logs:"+colorReset, err)
		return
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "{")
		if idx < 0 {
			continue
		}

		var entry LogEntry
		if err := json.Unmarshal([]byte(line[idx:]), &entry); err != nil {
			continue
		}
		printEvent(entry)
	}

	cmd.Wait()
}

func printEvent(e LogEntry) {
	short := e.TaskID
	if len(short) > 8 {
		short = short[:8]
	}

	switch e.Msg {
	case "Task submitted":
		fmt.Printf("%s[SUBMIT]%s  %s %s (%s)\n", colorBlue, colorReset, short, e.Name, e.Priority)
	case "Task started":
		fmt.Printf("%s[RUN]%s     %s %s on %s\n", colorYellow, colorReset, short, e.Name, e.WorkerID)
	case "Task completed":
		fmt.Printf("%s[DONE]%s    %s in %.2fs\n", colorGreen, colorReset, short, e.Seconds)
	case "Task failed":
		fmt.Printf("%s[FAIL]%s    %s\n", colorRed, colorReset, short)
	case "Task scheduled for retry":
		fmt.Printf("%s[RETRY]%s   %s\n", colorYellow, colorReset, short)
	case "Task cancelled":
		fmt.Printf("%s[CANCEL]%s  %s\n", colorGray, colorReset, short)
	case "Task timed out":
		fmt.Printf("%s[TIMEOUT]%s %s\n", colorRed, colorReset, short)
	default:
		if e.Level == "ERROR" {
			fmt.Printf("%s[ERROR]%s   %s\n", colorRed, colorReset, e.Msg)
		}
	}
}
