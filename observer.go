package tally

// An Observer watches a Node, waiting for its peers to change.
type Observer interface {
	// NotifyPeersChanged is invoked any time the set of peers for a node
	// changes. The slice of peers must not be modified.
	//
	// The Observer will be unregistered if the return value is false.
	NotifyPeersChanged(peers []string) (reregister bool)
}

// FuncObserver implements Observer.
type FuncObserver func(peers []string) (reregister bool)

// NotifyPeersChanged implements Observer.
func (f FuncObserver) NotifyPeersChanged(peers []string) (reregister bool) { return f(peers) }

// Observe registers o to be informed when the set of peers changes.
// Observers are notified asynchronously and may miss intermediate sets when
// peers change faster than observers run; the last set is always delivered.
func (n *Node) Observe(o Observer) {
	n.observersMut.Lock()
	defer n.observersMut.Unlock()
	n.observers = append(n.observers, o)
}

func (n *Node) notifyObservers(peers []string) {
	n.observersMut.Lock()
	defer n.observersMut.Unlock()

	newObservers := make([]Observer, 0, len(n.observers))
	for _, o := range n.observers {
		if o.NotifyPeersChanged(peers) {
			newObservers = append(newObservers, o)
		}
	}
	n.observers = newObservers
}
