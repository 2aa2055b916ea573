// Command certifyd runs the certification service: the document and
// issuance intake, the token ledger, and the background worker loop that
// advances bulletins onto Bitcoin.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitcertify/certify/pkg/bulletin"
	"github.com/bitcertify/certify/pkg/cerr"
	"github.com/bitcertify/certify/pkg/config"
	"github.com/bitcertify/certify/pkg/database"
	"github.com/bitcertify/certify/pkg/document"
	"github.com/bitcertify/certify/pkg/issuance"
	"github.com/bitcertify/certify/pkg/metrics"
	"github.com/bitcertify/certify/pkg/payload"
	"github.com/bitcertify/certify/pkg/proof"
	"github.com/bitcertify/certify/pkg/store"
	"github.com/bitcertify/certify/pkg/store/backupstore"
	"github.com/bitcertify/certify/pkg/store/fsstore"
	"github.com/bitcertify/certify/pkg/store/s3store"
	"github.com/bitcertify/certify/pkg/wallet"
	"github.com/bitcertify/certify/pkg/walletrpc"
	"github.com/bitcertify/certify/pkg/worker"
)

// health tracks component status for the /health endpoint.
type health struct {
	mu       sync.RWMutex
	Database string `json:"database"`
	Wallet   string `json:"wallet"`
	Bitcoind string `json:"bitcoind"`
}

func (h *health) set(field *string, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*field = value
}

func (h *health) snapshot() health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return health{Database: h.Database, Wallet: h.Wallet, Bitcoind: h.Bitcoind}
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		skipMigrations = flag.Bool("skip-migrations", false, "skip running database migrations on startup")
		showHelp       = flag.Bool("help", false, "show help")
	)
	flag.Parse()
	if *showHelp {
		flag.PrintDefaults()
		return
	}

	log.Println("starting certification service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	h := &health{Database: "unknown", Wallet: "unknown", Bitcoind: "unknown"}

	log.Println("connecting to database")
	dbClient, err := database.NewClient(cfg)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer dbClient.Close()
	h.set(&h.Database, "connected")

	if !*skipMigrations {
		if err := dbClient.MigrateUp(context.Background()); err != nil {
			log.Fatalf("running migrations: %v", err)
		}
	}

	params := networkParams(cfg.Network)

	log.Println("opening wallet keyring")
	keyring, err := wallet.Open(cfg.WalletEncryptedHex, cfg.WalletXPub, cfg.WalletPassword, params)
	if err != nil {
		log.Fatalf("opening wallet: %v", err)
	}
	h.set(&h.Wallet, "unlocked")

	log.Println("connecting to bitcoind")
	rpc, err := walletrpc.New(walletrpc.Config{
		Host: cfg.BitcoinRPCURL,
		User: cfg.BitcoinRPCUser,
		Pass: cfg.BitcoinRPCPass,
	})
	if err != nil {
		log.Fatalf("connecting to bitcoind: %v", err)
	}
	defer rpc.Shutdown()
	h.set(&h.Bitcoind, "connected")

	blobs, err := buildStore(cfg, keyring)
	if err != nil {
		log.Fatalf("building content store: %v", err)
	}

	repos := database.NewRepositories(dbClient)

	bulletinSvc := bulletin.NewService(repos.Bulletins, cfg.MinimumBulletinInterval, cfg.BumpInterval, cfg.MaxAutoBumps)
	documentSvc := document.NewService(repos.Documents, repos.Ledger, blobs)
	document.SetParkedRetention(cfg.DeleteOldParkedInterval)

	loop := worker.New(log.New(log.Writer(), "[worker] ", log.LstdFlags))
	loop.Register(worker.Task{
		Name:     "bulletin-advance",
		Interval: cfg.BulletinAdvanceInterval,
		Run: func(ctx context.Context) error {
			return wallet.Process(ctx, bulletinSvc, rpc, keyring, log.New(log.Writer(), "[bulletin] ", log.LstdFlags))
		},
	})
	loop.Register(worker.Task{
		Name:     "funding-retry",
		Interval: cfg.FundingRetryInterval,
		Run: func(ctx context.Context) error {
			ids, err := repos.Ledger.OrganizationsWithUnfundedDocuments(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if _, err := repos.Ledger.FundAll(ctx, id); err != nil {
					log.Printf("funding retry failed for organization %d: %v", id, err)
				}
			}
			return nil
		},
	})
	loop.Register(worker.Task{
		Name:     "issuance-create",
		Interval: cfg.IssuanceCreateInterval,
		Run: func(ctx context.Context) error {
			ids, err := repos.Issuances.IssuancesByStatus(ctx, issuance.StatusReceived)
			if err != nil {
				return err
			}
			for _, id := range ids {
				rec, err := repos.Issuances.GetRecord(ctx, id)
				if err != nil {
					log.Printf("issuance creator: loading issuance %d: %v", id, err)
					continue
				}
				tmpl, err := blobs.Get(ctx, store.Key{Prefix: "tpl-", ID: rec.TemplateKey})
				if err != nil {
					log.Printf("issuance creator: loading template for issuance %d: %v", id, err)
					continue
				}
				render := func(e issuance.Entry) ([]byte, error) {
					var buf bytes.Buffer
					if err := issuance.RenderTemplate(&buf, string(tmpl), e.Params); err != nil {
						return nil, err
					}
					return buf.Bytes(), nil
				}
				if err := issuance.Create(ctx, repos.Issuances, id, render); err != nil {
					log.Printf("issuance creator: creating entries for issuance %d: %v", id, err)
				}
			}
			return nil
		},
	})
	loop.Register(worker.Task{
		Name:     "issuance-complete",
		Interval: cfg.IssuanceCompleteInterval,
		Run: func(ctx context.Context) error {
			ids, err := repos.Issuances.IssuancesByStatus(ctx, issuance.StatusSigned)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := issuance.TryComplete(ctx, repos.Issuances, id, documentSvc.Published); err != nil {
					log.Printf("issuance completer: completing issuance %d: %v", id, err)
				}
			}
			return nil
		},
	})
	loop.Register(worker.Task{
		Name:     "proof-render",
		Interval: cfg.ProofRenderInterval,
		Run: func(ctx context.Context) error {
			return renderDueProofs(ctx, repos, blobs, keyring, params, string(cfg.Network), log.New(log.Writer(), "[proof] ", log.LstdFlags))
		},
	})
	loop.Register(worker.Task{
		Name:     "parked-sweep",
		Interval: cfg.ParkedSweepInterval,
		Run: func(ctx context.Context) error {
			n, err := documentSvc.SweepParked(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Printf("swept %d parked documents", n)
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.snapshot())
	})
	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Printf("health endpoint listening on %s", cfg.HealthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server error: %v", err)
		}
	}()
	go func() {
		log.Printf("metrics endpoint listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Println("certification service ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	cancel()
	loop.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = healthServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}

func networkParams(n config.Network) *chaincfg.Params {
	switch n {
	case config.Mainnet:
		return &chaincfg.MainNetParams
	case config.Testnet:
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.RegressionNetParams
	}
}

// renderDueProofs rebuilds and stores the self-verifying HTML proof for
// every story StoryRepository.PendingRender reports (never rendered, or
// last rendered before every bulletin confirmed), wiring pkg/proof and the
// story and endorsement repositories into the running service per
// spec.md §4.7: a story's proof covers every document attached to it,
// listing pending documents and bulletins that haven't confirmed yet.
func renderDueProofs(ctx context.Context, repos *database.Repositories, blobs store.Store, keyring *wallet.Keyring, params *chaincfg.Params, network string, logger *log.Logger) error {
	storyIDs, err := repos.Stories.PendingRender(ctx)
	if err != nil {
		return err
	}

	for _, storyID := range storyIDs {
		if err := renderStoryProof(ctx, repos, blobs, keyring, params, network, storyID); err != nil {
			if _, ok := err.(*cerr.NotReady); ok {
				continue
			}
			logger.Printf("rendering proof for story %d: %v", storyID, err)
			continue
		}
		logger.Printf("rendered proof for story %d", storyID)
	}
	return nil
}

func renderStoryProof(ctx context.Context, repos *database.Repositories, blobs store.Store, keyring *wallet.Keyring, params *chaincfg.Params, network string, storyID int64) error {
	docIDs, err := repos.Stories.DocumentIDs(ctx, storyID)
	if err != nil {
		return err
	}

	var (
		published      []proof.DocumentFile
		pendingIDs     []int64
		bulletins      []proof.BulletinInfo
		bulletinIsPub  = map[int64]bool{}
		personsSeen    = map[int64]bool{}
		persons        []proof.PersonInfo
	)

	for _, docID := range docIDs {
		rec, parts, err := repos.Documents.LoadForProof(ctx, docID)
		if err != nil {
			return err
		}
		if rec.BulletinID == nil {
			pendingIDs = append(pendingIDs, docID)
			continue
		}

		bID := *rec.BulletinID
		if _, seen := bulletinIsPub[bID]; !seen {
			brec, err := repos.Bulletins.Load(ctx, bID)
			if err != nil {
				return err
			}
			pub := brec.Status == bulletin.StatusPublished
			bulletinIsPub[bID] = pub
			bulletins = append(bulletins, proof.BulletinInfo{
				ID:        brec.ID,
				Published: pub,
				TxHash:    brec.TxHash,
				BlockHash: brec.BlockHash,
				BlockTime: brec.BlockTime,
				Payload:   brec.PayloadHash,
			})
		}
		if !bulletinIsPub[bID] {
			continue
		}

		partFiles := make([]proof.PartFile, 0, len(parts))
		for _, p := range parts {
			data, err := blobs.Get(ctx, p.StorageKey)
			if err != nil {
				return err
			}
			partFiles = append(partFiles, proof.PartFile{
				Hash:         p.Hash,
				FriendlyName: p.FriendlyName,
				MimeType:     p.MimeType,
				Data:         data,
				IsBase:       p.IsBase,
			})
		}
		published = append(published, proof.DocumentFile{
			DocumentID: rec.ID,
			Signer:     rec.Signer,
			PersonID:   rec.PersonID,
			Parts:      partFiles,
			BulletinID: bID,
		})

		if rec.PersonID != 0 && !personsSeen[rec.PersonID] {
			personsSeen[rec.PersonID] = true
			records, err := repos.Endorsements.ForPerson(ctx, rec.PersonID)
			if err != nil {
				return err
			}
			persons = append(persons, proof.PersonInfo{ID: rec.PersonID, Endorsements: records})
		}
	}

	in := proof.StoryInput{
		StoryID:            storyID,
		PublishedDocuments: published,
		PendingDocumentIDs: pendingIDs,
		Bulletins:          bulletins,
		Persons:            persons,
		Network:            network,
	}

	html, sig, err := proof.BuildStoryProof(in, keyring.PrivateKey(), params, time.Now())
	if err != nil {
		return err
	}

	key := store.Key{Prefix: "proof-", ID: fmt.Sprintf("story-%d", storyID)}
	if err := blobs.Put(ctx, key, html); err != nil {
		return err
	}

	fullyConfirmed := len(pendingIDs) == 0
	for _, b := range bulletins {
		if !b.Published {
			fullyConfirmed = false
		}
	}

	return repos.Proofs.Save(ctx, storyID, key.String(), payload.EncodeSignature(sig.Signature), time.Now(), fullyConfirmed)
}

func buildStore(cfg *config.Config, keyring *wallet.Keyring) (store.Store, error) {
	var primary store.Store
	var err error
	if cfg.StorageLocal {
		primary, err = fsstore.New(cfg.StorageDir)
	} else {
		primary, err = s3store.New(context.Background(), s3store.Options{
			Endpoint:  cfg.StorageURL,
			AccessKey: "",
			SecretKey: cfg.StorageSecret,
			Bucket:    cfg.StorageBucket,
		})
	}
	if err != nil {
		return nil, err
	}

	if cfg.BackupStorageEnabled {
		secondary, err := fsstore.New(cfg.BackupStorageDir)
		if err != nil {
			return nil, err
		}
		primary = backupstore.New(primary, secondary)
	}

	if cfg.StorageKey != "" {
		return store.NewEncryptedStore(primary, keyring.PrivateKey().Serialize()), nil
	}
	return primary, nil
}
