package server

import (
	"sync"

	"snapfeed/models"

	log "github.com/sirupsen/logrus"
)

// Broadcaster fans newly archived snaps out to SSE clients
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.Item
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.Item),
	}
}

func (b *Broadcaster) BroadcastSnap(snap models.Item) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		select {
		case client <- snap: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping snap for client: %v", id)
		}
	}
}

func (b *Broadcaster) AddClient(key string, client chan models.Item) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
}
