// Package session reconciles three independently-changing sources of
// truth into one consistent client auth session: the identity provider's
// live auth state, the backend-issued user profile, and locally persisted
// credentials.
//
// The engine is built from small collaborating pieces:
//
//   - Store: durable key/value persistence for the credential tuple
//   - Gateway: the external identity provider behind a narrow interface
//   - Client: backend exchange and authorized requests with a single
//     refresh-and-retry cycle on 401
//   - State: the single-writer session state container
//   - Coordinator: one-shot startup restoration
//   - Synchronizer: continuous alignment with later provider events
//   - Manager: the action boundary for sign-up, sign-in and sign-out
//
// Concrete adapters live in provider/identitykit (REST identity provider)
// and store/bunstore (bun backed credential store).
package session
