package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"google.golang.org/grpc"

	"github.com/narwhal-go/narwhal/common/identity"
	"github.com/narwhal-go/narwhal/common/logging"
	"github.com/narwhal-go/narwhal/primary/api"
	"github.com/narwhal-go/narwhal/primary/certwaiter"
	"github.com/narwhal-go/narwhal/primary/rpc"
	"github.com/narwhal-go/narwhal/primary/store"
)

var runLogger = logging.GetLogger("cmd/narwhal/run")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a consensus primary",
	RunE:  runPrimary,
}

func init() {
	runCmd.Flags().String("identity.path", "", "path to the encrypted identity file")
	runCmd.Flags().String("identity.passphrase", "", "passphrase protecting the identity file")
	runCmd.Flags().String("data.dir", "", "directory for persistent certificate/consensus storage")
	runCmd.Flags().String("listen.rpc", "/ip4/0.0.0.0/tcp/4001", "multiaddr the peer-facing gRPC service listens on")
	runCmd.Flags().String("listen.control", "127.0.0.1:4002", "host:port the local control plane listens on")
	runCmd.Flags().Bool("consensus.internal", false, "whether an embedded consensus engine backs committed rounds")
	runCmd.Flags().Uint64("gc.depth", 50, "number of rounds of history the waiter refuses to chase below the latest committed round")
	_ = viper.BindPFlags(runCmd.Flags())
}

func runPrimary(cmd *cobra.Command, args []string) error {
	id, err := identity.Load(viper.GetString("identity.path"), []byte(viper.GetString("identity.passphrase")))
	if err != nil {
		return fmt.Errorf("run: load identity: %w", err)
	}
	self := api.AuthorityFromPublicKey(id.Public)

	committee, err := loadCommittee()
	if err != nil {
		return fmt.Errorf("run: load committee: %w", err)
	}

	certStore, err := store.OpenCertificateStore(viper.GetString("data.dir") + "/certificates")
	if err != nil {
		return fmt.Errorf("run: open certificate store: %w", err)
	}

	var consensusStore store.ConsensusStore
	if viper.GetBool("consensus.internal") {
		consensusStore, err = store.OpenConsensusStore(viper.GetString("data.dir") + "/consensus")
		if err != nil {
			return fmt.Errorf("run: open consensus store: %w", err)
		}
	}
	consensusPollStop := make(chan struct{})

	client := rpc.NewClient()
	loopback := make(chan api.CertificateLoopbackMessage)

	waiter := certwaiter.New(certwaiter.Dependencies{
		Self:             self,
		Committee:        committee,
		Client:           client,
		CertificateStore: certStore,
		ConsensusStore:   consensusStore,
		Loopback:         loopback,
		GCDepth:          api.Round(viper.GetUint64("gc.depth")),
	})

	rpcAddr, err := multiaddr.NewMultiaddr(viper.GetString("listen.rpc"))
	if err != nil {
		return fmt.Errorf("run: parse listen.rpc: %w", err)
	}
	rpcLn, err := listenMultiaddr(rpcAddr)
	if err != nil {
		return fmt.Errorf("run: listen rpc: %w", err)
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterPrimaryServer(grpcServer, rpc.NewHandler(certStore))

	controlLn, err := net.Listen("tcp", viper.GetString("listen.control"))
	if err != nil {
		return fmt.Errorf("run: listen control: %w", err)
	}
	control := rpc.NewControl(func() (*rpc.StatusReport, error) {
		return &rpc.StatusReport{Epoch: committee.Epoch}, nil
	})

	go func() {
		if err := grpcServer.Serve(rpcLn); err != nil {
			runLogger.Error("rpc server stopped", "err", err)
		}
	}()
	go func() {
		if err := rpc.ServeControl(controlLn, control); err != nil {
			runLogger.Error("control plane stopped", "err", err)
		}
	}()
	go processLoopback(loopback, certStore)
	go waiter.Run()
	if consensusStore != nil {
		go pollConsensusRound(consensusPollStop, consensusStore, self, waiter)
	}

	runLogger.Info("primary running", "authority", self, "epoch", committee.Epoch)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	runLogger.Info("shutting down")
	close(consensusPollStop)
	waiter.Reconfigure(&api.ReconfigureNotification{Kind: api.ReconfigureShutdown})
	<-waiter.Done()

	grpcServer.GracefulStop()

	var shutdownErr error
	shutdownErr = multierr.Append(shutdownErr, controlLn.Close())
	shutdownErr = multierr.Append(shutdownErr, client.Close())
	shutdownErr = multierr.Append(shutdownErr, certStore.Close())
	if consensusStore != nil {
		shutdownErr = multierr.Append(shutdownErr, consensusStore.Close())
	}
	return shutdownErr
}

// processLoopback is the downstream consumer of delivered certificates:
// it persists each one before acknowledging, which is what lets the next
// Kick see them as already covered.
func processLoopback(loopback <-chan api.CertificateLoopbackMessage, certStore store.CertificateStore) {
	for msg := range loopback {
		for _, cert := range msg.Certificates {
			cert := cert
			if err := certStore.Store(context.Background(), &cert); err != nil {
				runLogger.Error("failed to persist delivered certificate", "authority", cert.Author, "round", cert.Round, "err", err)
			}
		}
		msg.Done <- struct{}{}
	}
}

// pollConsensusRound feeds the Epoch/GC Controller's sole consensus-round
// input (Waiter.UpdateConsensusRound) from the embedded consensus store:
// this node's own last committed round stands in for "the latest round
// consensus has advanced to", since with internal consensus enabled a
// primary's committed-round index only ever advances in step with the
// sequence it has itself processed.
func pollConsensusRound(stop <-chan struct{}, consensusStore store.ConsensusStore, self api.Authority, waiter *certwaiter.Waiter) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var last api.Round
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r, found, err := consensusStore.LastCommittedRound(context.Background(), self)
			if err != nil {
				runLogger.Error("failed to poll consensus round", "err", err)
				continue
			}
			if found && r > last {
				last = r
				waiter.UpdateConsensusRound(r)
			}
		}
	}
}

func listenMultiaddr(addr multiaddr.Multiaddr) (net.Listener, error) {
	host, err := addr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		return nil, fmt.Errorf("no ip4 component in %s", addr)
	}
	port, err := addr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return nil, fmt.Errorf("no tcp component in %s", addr)
	}
	return net.Listen("tcp", net.JoinHostPort(host, port))
}

// loadCommittee reads the committee definition from config. A production
// deployment would watch this file for epoch/membership changes; this
// command only needs it at startup.
func loadCommittee() (*api.Committee, error) {
	var members []api.CommitteeMember
	raw := viper.Get("committee.members")
	entries, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("committee.members must be a list")
	}
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("committee.members: malformed entry")
		}
		authority, err := api.ParseAuthority(fmt.Sprintf("%v", m["authority"]))
		if err != nil {
			return nil, fmt.Errorf("committee.members: %w", err)
		}
		addr, err := multiaddr.NewMultiaddr(fmt.Sprintf("%v", m["address"]))
		if err != nil {
			return nil, fmt.Errorf("committee.members: %w", err)
		}
		members = append(members, api.CommitteeMember{Authority: authority, Address: addr})
	}
	return &api.Committee{Epoch: api.Epoch(viper.GetUint64("committee.epoch")), Members: members}, nil
}
