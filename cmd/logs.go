package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/goosewin/ontogen/internal/logging"
)

var (
	logsFollow bool
	logsLines  int
)

var logsCmd = &cobra.Command{
	Use:   "logs [run-id]",
	Short: "Show the log of the latest or a given generate run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	runID := ""
	if len(args) == 1 {
		runID = args[0]
	}

	dir := logDir()
	logFile, err := logging.Find(dir, runID)
	if err != nil {
		return fmt.Errorf("%w in %s", err, dir)
	}

	fmt.Printf("Log file: %s\n\n", logFile)

	if logsFollow {
		return followLogFile(logFile, logsLines)
	}

	lines, err := tailLines(logFile, logsLines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func tailLines(path string, limit int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if limit <= 0 {
		return []string{}, nil
	}

	buffer := make([]string, 0, limit)
	scanner := bufioScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if len(buffer) == limit {
			copy(buffer, buffer[1:])
			buffer[limit-1] = line
		} else {
			buffer = append(buffer, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buffer, nil
}

func followLogFile(path string, limit int) error {
	lines, err := tailLines(path, limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr == nil {
			fmt.Print(strings.TrimRight(line, "\n"))
			fmt.Print("\n")
			offset += int64(len(line))
			continue
		}

		if readErr != io.EOF {
			return readErr
		}

		time.Sleep(500 * time.Millisecond)
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	}
}

func bufioScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
