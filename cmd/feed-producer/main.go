package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

// Envelope mirrors the lobby feed wire format.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// PlayerInfo is a synthetic player attribute update.
type PlayerInfo struct {
	Username        string         `json:"username"`
	Clan            string         `json:"clan,omitempty"`
	Country         string         `json:"country,omitempty"`
	RatingMean      float64        `json:"rating_mean"`
	RatingDeviation float64        `json:"rating_deviation"`
	Ratings         map[string]int `json:"ratings,omitempty"`
	NumberOfGames   int            `json:"number_of_games"`
}

// Game is a synthetic game lifecycle event payload.
type Game struct {
	UID               int                 `json:"uid"`
	Title             string              `json:"title,omitempty"`
	Host              string              `json:"host"`
	MapName           string              `json:"map_name,omitempty"`
	RatingType        string              `json:"rating_type,omitempty"`
	PasswordProtected bool                `json:"password_protected"`
	MinRating         int                 `json:"min_rating"`
	MaxRating         int                 `json:"max_rating"`
	State             string              `json:"state"`
	Teams             map[string][]string `json:"teams,omitempty"`
	NumPlayers        int                 `json:"num_players"`
	MaxPlayers        int                 `json:"max_players"`
}

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

var mapNames = []string{
	"Seton's Clutch", "Loki", "Theta Passage", "Badlands", "Winter Duel",
	"Canis River", "Open Palms", "Syrtis Major", "Finn's Revenge", "Roanoke Abyss",
}

var countries = []string{"US", "DE", "FR", "GB", "PL", "RU", "SE", "NL", "CA", "AU"}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

func randomPlayerInfo(idx int) PlayerInfo {
	return PlayerInfo{
		Username:        getPlayerName(idx),
		Country:         countries[rand.Intn(len(countries))],
		RatingMean:      float64(rand.Intn(2000) + 500),
		RatingDeviation: float64(rand.Intn(200) + 50),
		Ratings: map[string]int{
			"global": rand.Intn(2500),
			"ladder": rand.Intn(2500),
		},
		NumberOfGames: rand.Intn(1500),
	}
}

func randomGame(uid, totalPlayers int) Game {
	host := getPlayerName(rand.Intn(totalPlayers))
	teamSize := rand.Intn(3) + 1
	teams := map[string][]string{"1": {host}, "2": {}}
	for i := 0; i < teamSize; i++ {
		teams["2"] = append(teams["2"], getPlayerName(rand.Intn(totalPlayers)))
	}
	return Game{
		UID:               uid,
		Title:             fmt.Sprintf("%s's game", host),
		Host:              host,
		MapName:           mapNames[rand.Intn(len(mapNames))],
		RatingType:        "global",
		PasswordProtected: rand.Intn(10) == 0,
		MinRating:         0,
		MaxRating:         3000,
		State:             "open",
		Teams:             teams,
		NumPlayers:        teamSize + 1,
		MaxPlayers:        (teamSize + 1) * 2,
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "lobby-feed", "Kafka topic")
	totalPlayers := flag.Int("players", 500, "Total number of players to announce")
	updatesPerSecond := flag.Int("rate", 50, "Feed events per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only announce initial players, no continuous feed")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🚀 Lobby Feed Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Total Players:    %d\n", *totalPlayers)
	fmt.Printf("  Events/sec:       %d\n", *updatesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper; all events share one key per entity so the feed
	// stays ordered per player/game.
	sendEvent := func(key, eventType string, payload interface{}) {
		data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	// Announce initial players
	fmt.Printf("Announcing %d initial players...\n", *totalPlayers)
	for i := 0; i < *totalPlayers; i++ {
		info := randomPlayerInfo(i)
		sendEvent(info.Username, "player_info", info)
	}
	fmt.Printf("✓ Announced %d players\n\n", *totalPlayers)

	if *initialOnly {
		fmt.Println("Initial-only mode: Exiting after announcing players")
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
		return
	}

	// Start continuous feed
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Starting continuous feed (%d/sec)\n", *updatesPerSecond)
	fmt.Println("Mix: player updates, game hosting, roster churn, launches, closures")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*updatesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var eventCount int64
	nextUID := 1
	openGames := make(map[int]Game)

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			roll := rand.Intn(100)
			switch {
			case roll < 40:
				// Player attribute update
				info := randomPlayerInfo(rand.Intn(*totalPlayers))
				sendEvent(info.Username, "player_info", info)

			case roll < 60 || len(openGames) == 0:
				// Host a new game
				game := randomGame(nextUID, *totalPlayers)
				nextUID++
				openGames[game.UID] = game
				sendEvent(fmt.Sprintf("game-%d", game.UID), "game_added", game)

			case roll < 80:
				// Roster churn on an open game
				game := pickGame(openGames)
				game.Teams["2"] = append(game.Teams["2"], getPlayerName(rand.Intn(*totalPlayers)))
				game.NumPlayers++
				openGames[game.UID] = game
				sendEvent(fmt.Sprintf("game-%d", game.UID), "game_updated", game)

			case roll < 90:
				// Launch an open game
				game := pickGame(openGames)
				game.State = "playing"
				openGames[game.UID] = game
				sendEvent(fmt.Sprintf("game-%d", game.UID), "game_updated", game)

			default:
				// Close a game
				game := pickGame(openGames)
				game.State = "closed"
				delete(openGames, game.UID)
				sendEvent(fmt.Sprintf("game-%d", game.UID), "game_removed", game)
			}
			atomic.AddInt64(&eventCount, 1)

		case <-statsTicker.C:
			events := atomic.LoadInt64(&eventCount)
			success := atomic.LoadInt64(&successCount)
			errors := atomic.LoadInt64(&errorCount)
			fmt.Printf("[%s] Events: %d | Sent: %d | Errors: %d | Open games: %d\n",
				time.Now().Format("15:04:05"),
				events,
				success,
				errors,
				len(openGames),
			)
		}
	}
}

func pickGame(games map[int]Game) Game {
	for _, g := range games {
		return g
	}
	return Game{}
}
