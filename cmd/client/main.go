package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/koopa0/system-design/14-rps-rendezvous/internal"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/frame"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/logger"
)

var outcomeText = map[internal.Outcome]string{
	internal.OutcomeWin:  "你贏了",
	internal.OutcomeLose: "你輸了",
	internal.OutcomeTie:  "平手",
}

func main() {
	var (
		addr     = flag.String("addr", "localhost:8000", "服務器地址")
		timeout  = flag.Duration("dial-timeout", 5*time.Second, "連線逾時")
		logLevel = flag.String("log-level", "warn", "日誌級別 (debug, info, warn, error)")
	)
	flag.Parse()

	log := logger.New(logger.Options{Level: *logLevel, Output: os.Stderr})

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		log.Error("連線失敗", "addr", *addr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	log.Info("已連線", "addr", conn.RemoteAddr().String())
	rw := frame.NewReadWriter(conn)

	fmt.Println("輸入 rock / paper / scissors 出拳，Ctrl-D 離開")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		move, err := internal.ParseMove(scanner.Text())
		if err != nil {
			fmt.Println("只能出 rock、paper 或 scissors")
			continue
		}

		if err := rw.WriteString(string(move)); err != nil {
			log.Error("送出失敗", "error", err)
			os.Exit(1)
		}

		fmt.Println("等待對手出拳...")
		msg, err := rw.ReadString()
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println("對局已結束，服務器關閉了連線")
				return
			}
			log.Error("讀取結果失敗", "error", err)
			os.Exit(1)
		}

		result, err := internal.ParseResult(msg)
		if err != nil {
			fmt.Println(msg)
			continue
		}
		fmt.Printf("%s（%s）\n", msg, outcomeText[result.OutcomeFor(move)])
	}

	if err := scanner.Err(); err != nil {
		log.Error("讀取輸入失敗", "error", err)
		os.Exit(1)
	}
}
